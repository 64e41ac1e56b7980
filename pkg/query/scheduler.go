package query

import (
	"sync"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/rs/zerolog"
)

// scheduler drives the two per-query timer concerns: interval refetching and
// garbage collection after the last observer detaches. Rescheduling the
// refetch interval is computed relative to the last fire time, so shrinking
// the interval mid-wait fires sooner instead of restarting a full period.
type scheduler struct {
	clock     clock.Clock
	logger    zerolog.Logger
	onRefetch func()
	onGC      func()

	mu          sync.Mutex
	interval    time.Duration
	lastFire    time.Time
	refetchStop chan struct{}
	gcStop      chan struct{}
	stopped     bool
}

func newScheduler(clk clock.Clock, logger zerolog.Logger, onRefetch, onGC func()) *scheduler {
	return &scheduler{
		clock:     clk,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		onRefetch: onRefetch,
		onGC:      onGC,
	}
}

// SetRefetchInterval re-arms the polling timer for a new effective interval.
// Zero disables polling. If the new interval has already elapsed since the
// last fire, the refetch fires synchronously and the cadence restarts from
// now: the caller blocks for the whole fetch cycle, retry waits included,
// which reaches observer-management calls that reconfigure the interval.
func (s *scheduler) SetRefetchInterval(d time.Duration) {
	s.mu.Lock()
	if s.stopped || d == s.interval {
		s.mu.Unlock()
		return
	}

	s.stopRefetchLocked()
	s.interval = d
	if d <= 0 {
		s.interval = 0
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	if s.lastFire.IsZero() {
		// First arming: a full period from now.
		s.lastFire = now
	}

	remaining := s.lastFire.Add(d).Sub(now)
	if remaining <= 0 {
		s.lastFire = now
		s.armRefetchLocked(d)
		s.mu.Unlock()
		s.logger.Debug().Dur("interval", d).Msg("Interval already elapsed, firing refetch now.")
		s.onRefetch()
		return
	}

	s.armRefetchLocked(remaining)
	s.mu.Unlock()
}

// armRefetchLocked starts the timer goroutine for the current interval, with
// the first wait possibly shorter than a full period.
func (s *scheduler) armRefetchLocked(firstWait time.Duration) {
	timer := s.clock.NewTimer(firstWait)
	stop := make(chan struct{})
	s.refetchStop = stop

	go func() {
		for {
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C():
				s.mu.Lock()
				if s.stopped || s.refetchStop != stop {
					s.mu.Unlock()
					return
				}
				s.lastFire = s.clock.Now()
				timer.Reset(s.interval)
				s.mu.Unlock()
				s.onRefetch()
			}
		}
	}()
}

func (s *scheduler) stopRefetchLocked() {
	if s.refetchStop != nil {
		close(s.refetchStop)
		s.refetchStop = nil
	}
}

// ArmGC starts the single-shot eviction timer. Any previous GC timer is
// replaced. A non-positive duration still goes through the timer so a
// same-turn re-attach can cancel it before it fires.
func (s *scheduler) ArmGC(d time.Duration) {
	s.mu.Lock()
	s.stopGCLocked()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	timer := s.clock.NewTimer(d)
	stop := make(chan struct{})
	s.gcStop = stop
	s.mu.Unlock()

	s.logger.Debug().Dur("gc_duration", d).Msg("GC timer armed.")
	go func() {
		select {
		case <-stop:
			timer.Stop()
		case <-timer.C():
			// The timer and a cancellation can both be ready; only a still
			// current registration may evict.
			s.mu.Lock()
			live := !s.stopped && s.gcStop == stop
			if live {
				s.gcStop = nil
			}
			s.mu.Unlock()
			if live {
				s.onGC()
			}
		}
	}()
}

// CancelGC stops a pending eviction timer, if any.
func (s *scheduler) CancelGC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopGCLocked()
}

func (s *scheduler) stopGCLocked() {
	if s.gcStop != nil {
		close(s.gcStop)
		s.gcStop = nil
	}
}

// Stop cancels both timers unconditionally. Called when the owning query is
// removed from the cache.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.interval = 0
	s.stopRefetchLocked()
	s.stopGCLocked()
}
