package query

import (
	"sync"

	"github.com/google/uuid"
)

// NotifyFunc receives every state transition of the query an observer is
// attached to, synchronously and in transition order. Implementations must
// not block and must not synchronously call back into Fetch; detaching the
// observer from within the callback is safe.
type NotifyFunc[T any] func(State[T])

// Observer is one subscriber's registration on a Query: its desired options
// and its notification callback. An Observer is owned by the binding layer;
// the Query only tracks membership.
type Observer[T any] struct {
	id     uuid.UUID
	notify NotifyFunc[T]

	mu      sync.Mutex
	options Options[T]
}

// NewObserver creates an Observer with the given options. onNotified may be
// nil for subscribers that only participate in option folding.
func NewObserver[T any](options Options[T], onNotified NotifyFunc[T]) *Observer[T] {
	return &Observer[T]{
		id:      uuid.New(),
		notify:  onNotified,
		options: options,
	}
}

// ID returns the observer's registration identity.
func (o *Observer[T]) ID() uuid.UUID {
	return o.id
}

// Options returns a copy of the observer's current options.
func (o *Observer[T]) Options() Options[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.options
}

func (o *Observer[T]) setOptions(options Options[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.options = options
}

// onNotified delivers a state snapshot, applying the placeholder overlay:
// while the query holds no real data, this observer sees its placeholder
// instead. Placeholder data never reaches the cache.
func (o *Observer[T]) onNotified(s State[T]) {
	if o.notify == nil {
		return
	}
	opts := o.Options()
	if !s.HasData && opts.PlaceholderData != nil {
		s.Data = *opts.PlaceholderData
		s.HasData = true
	}
	o.notify(s)
}
