package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests. Time only moves
// when Advance is called; timers due at or before the new time fire in
// deadline order before Advance returns.
type Fake struct {
	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Time
	timers []*fakeTimer
}

// NewFake creates a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer returns a timer firing when the fake clock reaches now+d.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		parent: f,
		ch:     make(chan time.Time, 1),
	}
	f.timers = append(f.timers, t)
	f.armLocked(t, d)
	f.cond.Broadcast()
	return t
}

// Advance moves the clock forward by d and fires every pending timer whose
// deadline has been reached, in deadline order, before returning.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	f.fireDueLocked()
	f.cond.Broadcast()
}

// BlockUntil waits until at least n timers are pending on the fake clock.
// Tests use it to synchronise with goroutines that are about to wait.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.cond.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	pending := 0
	for _, t := range f.timers {
		if t.active {
			pending++
		}
	}
	return pending
}

func (f *Fake) armLocked(t *fakeTimer, d time.Duration) {
	t.deadline = f.now.Add(d)
	t.active = true
	if d <= 0 {
		f.fireDueLocked()
	}
}

func (f *Fake) fireDueLocked() {
	for {
		var next *fakeTimer
		for _, t := range f.timers {
			if !t.active || t.deadline.After(f.now) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			return
		}
		next.active = false
		select {
		case next.ch <- f.now:
		default:
		}
	}
}

type fakeTimer struct {
	parent   *Fake
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Stop() bool {
	f := t.parent
	f.mu.Lock()
	defer f.mu.Unlock()
	wasActive := t.active
	t.active = false
	f.cond.Broadcast()
	return wasActive
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	f := t.parent
	f.mu.Lock()
	defer f.mu.Unlock()
	wasActive := t.active
	// Drain a stale fire so a reused timer cannot deliver an old deadline.
	select {
	case <-t.ch:
	default:
	}
	f.armLocked(t, d)
	f.cond.Broadcast()
	return wasActive
}
