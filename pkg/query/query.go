package query

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/backoff"
	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/illmade-knight/go-querycache/pkg/querykey"
	"github.com/rs/zerolog"
)

// Caller-misuse errors. Fetcher and application errors are never surfaced
// this way; they are recovered into State and observed through notifications.
var (
	// ErrNoFetcher means no attached observer supplied a Fetcher.
	ErrNoFetcher = errors.New("query: no fetcher configured on any observer")
	// ErrNotPaginated means FetchNextPage was called without a PageFetcher
	// and NextPageParam configured.
	ErrNotPaginated = errors.New("query: observers configure no page fetcher or next-page param")
)

// Query is the state machine for one cached key. It owns exactly one State,
// the set of attached observers, at most one in-flight fetch cycle including
// its retry chain, and the timers driving interval refetch and garbage
// collection.
type Query[T any] struct {
	key    querykey.Key
	clock  clock.Clock
	logger zerolog.Logger
	sched  *scheduler

	mu        sync.Mutex
	state     State[T]
	observers []*Observer[T]
	cycle     *fetchCycle[T]
}

// fetchCycle tracks one fetch and its retry chain. prev is the snapshot a
// cancellation reverts to; canceled marks results as discardable.
type fetchCycle[T any] struct {
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	canceled bool
	prev     State[T]
}

func newQuery[T any](key querykey.Key, clk clock.Clock, logger zerolog.Logger, onEvict func()) *Query[T] {
	q := &Query[T]{
		key:    key,
		clock:  clk,
		logger: logger.With().Str("component", "Query").Stringer("key", key).Logger(),
		state:  newIdleState[T](),
	}
	q.sched = newScheduler(clk, q.logger, q.refetchFired, onEvict)
	return q
}

// Key returns the query's identifier.
func (q *Query[T]) Key() querykey.Key {
	return q.key
}

// State returns the current snapshot.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// ObserverCount returns the number of attached observers.
func (q *Query[T]) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// AddObserver attaches o and synchronously notifies it with the current
// state, so a newly mounted subscriber is immediately consistent. The first
// observer cancels any pending GC timer. The attach snapshot is delivered
// before reconciling: an overdue refetch interval fires a fetch inside
// reconcile, and its notifications must follow the snapshot, never precede
// it, so the observer's last-seen state stays current.
func (q *Query[T]) AddObserver(o *Observer[T]) {
	q.mu.Lock()
	q.observers = append(q.observers, o)
	first := len(q.observers) == 1
	st := q.state
	q.mu.Unlock()

	if first {
		q.sched.CancelGC()
	}
	o.onNotified(st)
	q.reconcile()
}

// RemoveObserver detaches o. When the set becomes empty the GC timer is armed
// with the departing observer's GCDuration; a zero duration still waits for
// the timer's next tick so an immediate re-attach can cancel eviction.
func (q *Query[T]) RemoveObserver(o *Observer[T]) {
	q.mu.Lock()
	idx := slices.Index(q.observers, o)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.observers = slices.Delete(q.observers, idx, idx+1)
	empty := len(q.observers) == 0
	q.mu.Unlock()

	if empty {
		q.sched.SetRefetchInterval(0)
		q.sched.ArmGC(o.Options().gcDuration())
		return
	}
	q.reconcile()
}

// UpdateObserverOptions replaces an attached observer's options and
// re-reconciles the query's effective configuration.
func (q *Query[T]) UpdateObserverOptions(o *Observer[T], options Options[T]) {
	o.setOptions(options)
	q.mu.Lock()
	attached := slices.Index(q.observers, o) >= 0
	q.mu.Unlock()
	if attached {
		q.reconcile()
	}
}

// reconcile recomputes effective options and re-arms the refetch timer.
// Called without q.mu held; the scheduler may fire a refetch synchronously.
func (q *Query[T]) reconcile() {
	q.mu.Lock()
	eff, ok := resolveOptions(q.observers)
	q.mu.Unlock()

	if !ok || !eff.enabled {
		q.sched.SetRefetchInterval(0)
		return
	}
	q.sched.SetRefetchInterval(eff.refetchInterval)
}

func (q *Query[T]) refetchFired() {
	// Interval refetches bypass the freshness window; otherwise a stale
	// duration longer than the interval would make polling a no-op.
	_ = q.Fetch(context.Background(), WithForce())
}

// FetchOption adjusts a single Fetch call.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	force bool
}

// WithForce skips the freshness check for this call.
func WithForce() FetchOption {
	return func(c *fetchConfig) {
		c.force = true
	}
}

// Fetch runs one fetch cycle and blocks until it settles. With no enabled
// observers it is a no-op. While a cycle is already in flight, concurrent
// calls coalesce onto it and wait for its outcome rather than issuing
// parallel fetches. Fresh data short-circuits unless WithForce is given.
//
// Fetcher errors are recovered into State, never returned; the only errors
// Fetch itself returns are caller misuse (ErrNoFetcher) and cancellation of
// the caller's ctx while waiting on a coalesced cycle.
func (q *Query[T]) Fetch(ctx context.Context, opts ...FetchOption) error {
	var cfg fetchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	q.mu.Lock()
	eff, ok := resolveOptions(q.observers)
	if !ok || !eff.enabled {
		q.mu.Unlock()
		return nil
	}
	if eff.fetcher == nil {
		q.mu.Unlock()
		return ErrNoFetcher
	}
	if q.cycle != nil {
		done := q.cycle.done
		q.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !cfg.force && q.isFreshLocked(eff.staleDuration) {
		q.mu.Unlock()
		return nil
	}

	cycle := q.beginCycleLocked(ctx)
	q.mu.Unlock()

	// Observers see fetching before the fetcher runs.
	q.applyAndNotify(cycle, func(s State[T]) State[T] { return s.withFetching() })

	q.runCycle(cycle, eff, func(fetchCtx context.Context) (T, error) {
		return eff.fetcher(fetchCtx)
	}, nil)
	return nil
}

// FetchNextPage fetches the next page of a paginated query and merges it
// into the accumulated data. It fails fast with ErrNotPaginated when the
// observers configure no pagination; running out of pages is a quiet no-op.
func (q *Query[T]) FetchNextPage(ctx context.Context) error {
	q.mu.Lock()
	eff, ok := resolveOptions(q.observers)
	if !ok || !eff.enabled {
		q.mu.Unlock()
		return nil
	}
	if eff.pageFetcher == nil || eff.nextPageParam == nil {
		q.mu.Unlock()
		return ErrNotPaginated
	}
	if q.cycle != nil {
		done := q.cycle.done
		q.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var pageParam any
	if q.state.HasData {
		param, more := eff.nextPageParam(q.state.Data)
		if !more {
			q.mu.Unlock()
			q.logger.Debug().Msg("No further page available.")
			return nil
		}
		pageParam = param
	}

	cycle := q.beginCycleLocked(ctx)
	q.mu.Unlock()

	q.applyAndNotify(cycle, func(s State[T]) State[T] { return s.withFetching() })

	q.runCycle(cycle, eff, func(fetchCtx context.Context) (T, error) {
		return eff.pageFetcher(fetchCtx, pageParam)
	}, eff.merge)
	return nil
}

// beginCycleLocked installs a new in-flight cycle. The cycle context detaches
// from the caller's cancellation: the caller's ctx gates only its own wait,
// while the cycle is stopped through Cancel.
func (q *Query[T]) beginCycleLocked(ctx context.Context) *fetchCycle[T] {
	cycle := &fetchCycle[T]{
		done: make(chan struct{}),
		prev: q.state,
	}
	cycle.ctx, cycle.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.cycle = cycle
	return cycle
}

// runCycle performs the first attempt and, on retryable failure, delegates to
// the backoff resolver. It always closes cycle.done on return.
func (q *Query[T]) runCycle(cycle *fetchCycle[T], eff effectiveOptions[T], invoke func(context.Context) (T, error), merge MergeFunc[T]) {
	defer close(cycle.done)

	value, err := invoke(cycle.ctx)
	if err == nil {
		q.settleSuccess(cycle, value, merge)
		return
	}
	if cycle.ctx.Err() != nil {
		// Canceled mid-attempt: the result is discarded, Cancel already
		// published the reverted state.
		return
	}
	if eff.policy.MaxAttempts == 0 || !eff.policy.Retryable(err) {
		q.settleFailure(cycle, err)
		return
	}

	q.logger.Debug().Err(err).Msg("Fetch failed, entering retry.")
	q.applyAndNotify(cycle, func(s State[T]) State[T] { return s.withRetrying(err, 0) })

	resolver := backoff.NewResolver[T](eff.policy, q.clock, q.logger)
	value, err = resolver.Execute(cycle.ctx, err, invoke, func(attemptErr error, attempt int) {
		q.applyAndNotify(cycle, func(s State[T]) State[T] { return s.withRetrying(attemptErr, attempt) })
	})
	if err == nil {
		q.settleSuccess(cycle, value, merge)
		return
	}
	if cycle.ctx.Err() != nil {
		return
	}
	q.settleFailure(cycle, err)
}

func (q *Query[T]) settleSuccess(cycle *fetchCycle[T], value T, merge MergeFunc[T]) {
	now := q.clock.Now()
	q.applyAndNotify(cycle, func(s State[T]) State[T] {
		if merge != nil {
			value = merge(s.Data, s.HasData, value)
		}
		return s.withSuccess(value, now)
	})
	q.finishCycle(cycle)
}

func (q *Query[T]) settleFailure(cycle *fetchCycle[T], err error) {
	q.logger.Debug().Err(err).Msg("Fetch cycle settled in failure.")
	now := q.clock.Now()
	q.applyAndNotify(cycle, func(s State[T]) State[T] { return s.withFailure(err, now) })
	q.finishCycle(cycle)
}

func (q *Query[T]) finishCycle(cycle *fetchCycle[T]) {
	q.mu.Lock()
	if q.cycle == cycle {
		q.cycle = nil
	}
	q.mu.Unlock()
	cycle.cancel()
}

// applyAndNotify applies a pure transition atomically and fans the new state
// out to a snapshot of the observer set, so a callback detaching its own
// observer cannot corrupt iteration. Transitions belonging to a canceled or
// superseded cycle are discarded.
func (q *Query[T]) applyAndNotify(cycle *fetchCycle[T], transition func(State[T]) State[T]) {
	q.mu.Lock()
	if cycle != nil && (cycle.canceled || q.cycle != cycle) {
		q.mu.Unlock()
		return
	}
	q.state = transition(q.state)
	st := q.state
	obs := slices.Clone(q.observers)
	q.mu.Unlock()

	q.fanOut(st, obs)
}

func (q *Query[T]) fanOut(st State[T], observers []*Observer[T]) {
	for _, o := range observers {
		o.onNotified(st)
	}
}

// CancelOption adjusts the state a Cancel call settles on.
type CancelOption[T any] func(*State[T])

// WithCancelData overrides the data the canceled state carries.
func WithCancelData[T any](data T) CancelOption[T] {
	return func(s *State[T]) {
		s.Data = data
		s.HasData = true
	}
}

// WithCancelError overrides the error the canceled state carries.
func WithCancelError[T any](err error) CancelOption[T] {
	return func(s *State[T]) {
		s.Err = err
	}
}

// Cancel stops the in-flight fetch cycle, if any. The canceled state reverts
// data and error to the pre-fetch snapshot (optionally overridden), is
// published synchronously, and the query immediately accepts a new Fetch.
// A late result from the stopped cycle is discarded, never published.
func (q *Query[T]) Cancel(_ context.Context, opts ...CancelOption[T]) error {
	q.mu.Lock()
	cycle := q.cycle
	if cycle == nil {
		q.mu.Unlock()
		return nil
	}
	cycle.canceled = true
	q.cycle = nil

	st := cycle.prev.withCanceled()
	for _, opt := range opts {
		opt(&st)
	}
	q.state = st
	obs := slices.Clone(q.observers)
	q.mu.Unlock()

	cycle.cancel()
	q.logger.Debug().Msg("Fetch cycle canceled.")
	q.fanOut(st, obs)
	return nil
}

// SetData seeds or overwrites the cached value without invoking the fetcher.
// The write applies only when the query holds no data or its data is older
// than updatedAt: last-writer-wins by timestamp, not by call order. The
// status becomes success. updatedAt defaults to now.
func (q *Query[T]) SetData(data T, updatedAt ...time.Time) {
	at := q.clock.Now()
	if len(updatedAt) > 0 {
		at = updatedAt[0]
	}

	q.mu.Lock()
	if q.state.HasData && !q.state.DataUpdatedAt.Before(at) {
		q.mu.Unlock()
		return
	}
	q.state = q.state.withSuccess(data, at)
	st := q.state
	obs := slices.Clone(q.observers)
	q.mu.Unlock()

	q.fanOut(st, obs)
}

// Invalidate marks the entry stale regardless of its age, without clearing
// data. The flag overrides the freshness check until a fetch completes
// successfully.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	q.state.Invalidated = true
	st := q.state
	obs := slices.Clone(q.observers)
	q.mu.Unlock()

	q.fanOut(st, obs)
}

// isFreshLocked decides freshness from a single clock read. Invalidated or
// absent data is never fresh.
func (q *Query[T]) isFreshLocked(staleDuration time.Duration) bool {
	if q.state.Invalidated {
		return false
	}
	if !q.state.HasData || q.state.DataUpdatedAt.IsZero() {
		return false
	}
	return q.clock.Now().Before(q.state.DataUpdatedAt.Add(staleDuration))
}

// shutdown forcibly detaches all observers, cancels the in-flight cycle and
// stops all timers. Called by the cache on removal.
func (q *Query[T]) shutdown() {
	_ = q.Cancel(context.Background())
	q.mu.Lock()
	q.observers = nil
	q.mu.Unlock()
	q.sched.Stop()
}
