// Package clock abstracts the time source so that staleness, backoff and
// garbage-collection decisions can be driven deterministically in tests.
package clock

import "time"

// Clock is a substitutable source of "now" and of timers. Components read the
// clock exactly once per decision point and reuse the value, so two reads
// never straddle a timer boundary within a single decision.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer returns a timer that fires once after d has elapsed.
	// A non-positive d fires the timer immediately.
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer handle.
type Timer interface {
	// C returns the channel on which the fire time is delivered.
	C() <-chan time.Time
	// Stop prevents the timer from firing. It reports whether the timer was
	// still pending.
	Stop() bool
	// Reset re-arms the timer to fire after d. It reports whether the timer
	// was still pending when it was reset.
	Reset(d time.Duration) bool
}

// System returns a Clock backed by the wall clock and real timers.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time {
	return s.t.C
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}

func (s systemTimer) Reset(d time.Duration) bool {
	return s.t.Reset(d)
}
