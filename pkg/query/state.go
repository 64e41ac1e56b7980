// Package query implements a client-side data-fetching and caching engine:
// per-key Query state machines with request deduplication, staleness
// tracking, retry backoff, interval refetching, observer fan-out and
// garbage-collected cache lifetime.
package query

import "time"

// Status is the phase of a Query's current fetch cycle.
type Status string

const (
	// StatusIdle is a freshly created Query that has never fetched.
	StatusIdle Status = "idle"
	// StatusFetching is an in-flight first attempt.
	StatusFetching Status = "fetching"
	// StatusRetrying is an in-flight retry chain after a failed attempt.
	StatusRetrying Status = "retrying"
	// StatusSuccess holds fetched data.
	StatusSuccess Status = "success"
	// StatusFailure holds the error a fetch cycle settled on.
	StatusFailure Status = "failure"
	// StatusCanceled is a fetch cycle stopped by the caller; data and error
	// are reverted to the pre-fetch snapshot.
	StatusCanceled Status = "canceled"
)

// InFlight reports whether the status represents an active fetch cycle.
func (s Status) InFlight() bool {
	return s == StatusFetching || s == StatusRetrying
}

// State is an immutable snapshot of a Query. Observers receive a copy on
// every transition; mutating a received State has no effect on the Query.
type State[T any] struct {
	Status Status
	// Data is the last successfully fetched (or seeded) value. Only
	// meaningful when HasData is true.
	Data    T
	HasData bool
	// Err is the error of the current or last failed cycle. Non-nil when
	// Status is failure or retrying.
	Err error
	// DataUpdatedAt is when Data was last written. Zero when HasData is false.
	DataUpdatedAt time.Time
	// ErrorUpdatedAt is when Err was last written.
	ErrorUpdatedAt time.Time
	// Retries counts retry attempts in the current fetch cycle. It resets to
	// zero at the start of every fresh fetch.
	Retries int
	// Invalidated marks the entry explicitly stale; it overrides the
	// staleness window until the next successful fetch.
	Invalidated bool
}

func newIdleState[T any]() State[T] {
	return State[T]{Status: StatusIdle}
}

// Each transition below is a pure function from one snapshot to the next,
// applied atomically under the query mutex before fan-out.

func (s State[T]) withFetching() State[T] {
	s.Status = StatusFetching
	s.Retries = 0
	return s
}

func (s State[T]) withRetrying(err error, retries int) State[T] {
	s.Status = StatusRetrying
	s.Err = err
	s.Retries = retries
	return s
}

func (s State[T]) withSuccess(data T, at time.Time) State[T] {
	s.Status = StatusSuccess
	s.Data = data
	s.HasData = true
	s.DataUpdatedAt = at
	s.Err = nil
	s.Invalidated = false
	return s
}

func (s State[T]) withFailure(err error, at time.Time) State[T] {
	s.Status = StatusFailure
	s.Err = err
	s.ErrorUpdatedAt = at
	return s
}

func (s State[T]) withCanceled() State[T] {
	s.Status = StatusCanceled
	return s
}
