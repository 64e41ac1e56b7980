package query

import (
	"context"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/backoff"
)

// Fetcher retrieves the value for a query. It is an opaque caller-supplied
// function; the engine never inspects what it does.
type Fetcher[T any] func(ctx context.Context) (T, error)

// PageFetcher retrieves one page of a paginated query given the page
// parameter produced by a NextPageParamFunc.
type PageFetcher[T any] func(ctx context.Context, pageParam any) (T, error)

// NextPageParamFunc derives the parameter for the next page from the current
// accumulated data. Returning ok=false means there is no further page.
type NextPageParamFunc[T any] func(current T) (pageParam any, ok bool)

// MergeFunc folds a newly fetched page into the existing data. hasExisting is
// false on the first page.
type MergeFunc[T any] func(existing T, hasExisting bool, incoming T) T

// Variant tags an observer's page-accumulation strategy. All observers of one
// key are expected to agree; the first observer's variant wins.
type Variant string

const (
	// VariantSingle replaces data wholesale on every successful fetch.
	VariantSingle Variant = "single"
	// VariantPaged fetches one page at a time, replacing data per page.
	VariantPaged Variant = "paged"
	// VariantInfinite accumulates pages through the Merge function.
	VariantInfinite Variant = "infinite"
)

// Defaults applied where an observer leaves an option unset.
const (
	DefaultStaleDuration            = 0 * time.Second
	DefaultGCDuration               = 5 * time.Minute
	DefaultRetryMaxAttempts         = 3
	DefaultRetryMaxDelay            = 30 * time.Second
	DefaultRetryDelayFactor         = 1 * time.Second
	DefaultRetryRandomizationFactor = 0.0
)

// Options is the configuration one observer carries. Only Fetcher is
// required; pointer fields distinguish "unset" (default applies) from an
// explicit zero. Use Ptr for literals.
type Options[T any] struct {
	// Fetcher performs the fetch. First attached observer's fetcher wins;
	// heterogeneous fetchers across observers of one key are caller error.
	Fetcher Fetcher[T]
	// Enabled gates fetching for this observer. Nil means enabled.
	Enabled *bool
	// PlaceholderData is overlaid on notifications to this observer while
	// the query has no real data. It is never written to the cache.
	PlaceholderData *T
	// StaleDuration is how long fetched data counts as fresh. The minimum
	// across observers wins. Nil means DefaultStaleDuration.
	StaleDuration *time.Duration
	// GCDuration is the idle time before an observerless query is evicted.
	// The departing last observer's value arms the GC timer. Nil means
	// DefaultGCDuration.
	GCDuration *time.Duration
	// RetryWhen decides whether a fetch error is retryable. First observer's
	// predicate wins. Nil retries everything.
	RetryWhen func(error) bool
	// Retry shape; the maximum across observers wins for each field.
	RetryMaxAttempts         *int
	RetryMaxDelay            *time.Duration
	RetryDelayFactor         *time.Duration
	RetryRandomizationFactor *float64
	// RefetchInterval polls the query. The minimum set value across
	// observers wins; nil from all observers disables polling.
	RefetchInterval *time.Duration

	// Pagination strategy. Variant defaults to VariantSingle.
	Variant       Variant
	PageFetcher   PageFetcher[T]
	NextPageParam NextPageParamFunc[T]
	Merge         MergeFunc[T]
}

// Ptr is a convenience for pointer option fields: Ptr(10 * time.Minute).
func Ptr[V any](v V) *V {
	return &v
}

func (o Options[T]) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

func (o Options[T]) gcDuration() time.Duration {
	if o.GCDuration != nil {
		return *o.GCDuration
	}
	return DefaultGCDuration
}

func (o Options[T]) staleDuration() time.Duration {
	if o.StaleDuration != nil {
		return *o.StaleDuration
	}
	return DefaultStaleDuration
}

func (o Options[T]) retryMaxAttempts() int {
	if o.RetryMaxAttempts != nil {
		return *o.RetryMaxAttempts
	}
	return DefaultRetryMaxAttempts
}

func (o Options[T]) retryMaxDelay() time.Duration {
	if o.RetryMaxDelay != nil {
		return *o.RetryMaxDelay
	}
	return DefaultRetryMaxDelay
}

func (o Options[T]) retryDelayFactor() time.Duration {
	if o.RetryDelayFactor != nil {
		return *o.RetryDelayFactor
	}
	return DefaultRetryDelayFactor
}

func (o Options[T]) retryRandomizationFactor() float64 {
	if o.RetryRandomizationFactor != nil {
		return *o.RetryRandomizationFactor
	}
	return DefaultRetryRandomizationFactor
}

// effectiveOptions is the fold of all attached observers' options, recomputed
// whenever the observer set or an observer's options change.
type effectiveOptions[T any] struct {
	fetcher       Fetcher[T]
	enabled       bool
	staleDuration time.Duration
	policy        backoff.Policy
	// refetchInterval of zero means no polling.
	refetchInterval time.Duration

	variant       Variant
	pageFetcher   PageFetcher[T]
	nextPageParam NextPageParamFunc[T]
	merge         MergeFunc[T]
}

// resolveOptions folds observer options per the reconciliation rules:
// first-wins for the fetcher, retry predicate and pagination strategy;
// minimum for staleness and refetch interval (the freshest demand wins);
// maximum for the retry shape (the most resilient policy wins). Unset options
// participate with their defaults.
func resolveOptions[T any](observers []*Observer[T]) (effectiveOptions[T], bool) {
	if len(observers) == 0 {
		return effectiveOptions[T]{}, false
	}

	var eff effectiveOptions[T]
	eff.variant = VariantSingle

	for i, obs := range observers {
		opts := obs.Options()

		if eff.fetcher == nil && opts.Fetcher != nil {
			eff.fetcher = opts.Fetcher
		}
		if eff.policy.RetryWhen == nil && opts.RetryWhen != nil {
			eff.policy.RetryWhen = opts.RetryWhen
		}
		if eff.pageFetcher == nil && opts.PageFetcher != nil {
			eff.pageFetcher = opts.PageFetcher
			eff.nextPageParam = opts.NextPageParam
			eff.merge = opts.Merge
			if opts.Variant != "" {
				eff.variant = opts.Variant
			}
		}
		if opts.enabled() {
			eff.enabled = true
		}

		if stale := opts.staleDuration(); i == 0 || stale < eff.staleDuration {
			eff.staleDuration = stale
		}
		if attempts := opts.retryMaxAttempts(); i == 0 || attempts > eff.policy.MaxAttempts {
			eff.policy.MaxAttempts = attempts
		}
		if maxDelay := opts.retryMaxDelay(); i == 0 || maxDelay > eff.policy.MaxDelay {
			eff.policy.MaxDelay = maxDelay
		}
		if factor := opts.retryDelayFactor(); i == 0 || factor > eff.policy.DelayFactor {
			eff.policy.DelayFactor = factor
		}
		if random := opts.retryRandomizationFactor(); i == 0 || random > eff.policy.RandomizationFactor {
			eff.policy.RandomizationFactor = random
		}
		if opts.RefetchInterval != nil {
			if eff.refetchInterval == 0 || *opts.RefetchInterval < eff.refetchInterval {
				eff.refetchInterval = *opts.RefetchInterval
			}
		}
	}

	return eff, true
}
