// Package backoff implements retry policies with capped exponential delay,
// optional jitter and cancellation-aware execution.
package backoff

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/rs/zerolog"
)

// Policy describes when and how an operation is retried.
type Policy struct {
	// RetryWhen decides whether an error is retryable. Nil retries everything.
	RetryWhen func(error) bool
	// MaxAttempts is the number of retries after the caller's own first try.
	// Zero disables retries entirely.
	MaxAttempts int
	// MaxDelay caps the computed delay between attempts.
	MaxDelay time.Duration
	// DelayFactor is the base delay; attempt n waits DelayFactor * 2^(n-1)
	// before the cap and jitter are applied.
	DelayFactor time.Duration
	// RandomizationFactor in [0,1] scales the jitter applied to each delay.
	RandomizationFactor float64
}

// Retryable reports whether err should be retried under this policy.
func (p Policy) Retryable(err error) bool {
	if p.RetryWhen == nil {
		return true
	}
	return p.RetryWhen(err)
}

// Delay computes the wait before retry attempt n (1-indexed). The uniform
// argument must return values in [0,1); it is injectable so tests can pin the
// jitter.
func (p Policy) Delay(attempt int, uniform func() float64) time.Duration {
	if attempt < 1 {
		return 0
	}

	base := p.DelayFactor
	for i := 1; i < attempt; i++ {
		base *= 2
		if base >= p.MaxDelay {
			base = p.MaxDelay
			break
		}
	}
	if base > p.MaxDelay {
		base = p.MaxDelay
	}

	if p.RandomizationFactor > 0 && uniform != nil {
		// uniform() in [0,1) mapped onto [-1,1).
		jitter := float64(base) * p.RandomizationFactor * (uniform()*2 - 1)
		base += time.Duration(jitter)
	}

	if base < 0 {
		return 0
	}
	if base > p.MaxDelay {
		return p.MaxDelay
	}
	return base
}

// Operation is a single retryable unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// ErrorHook is invoked after each failed retry attempt with the error and the
// 1-indexed attempt number, before the next delay is computed.
type ErrorHook func(err error, attempt int)

// Resolver executes an Operation under a Policy. The caller performs the
// operation's first try itself and hands the resulting error to Execute; the
// resolver owns attempts 1..MaxAttempts.
type Resolver[T any] struct {
	policy  Policy
	clock   clock.Clock
	uniform func() float64
	logger  zerolog.Logger
}

// NewResolver creates a Resolver. A nil clk falls back to the system clock.
func NewResolver[T any](policy Policy, clk clock.Clock, logger zerolog.Logger) *Resolver[T] {
	if clk == nil {
		clk = clock.System()
	}
	return &Resolver[T]{
		policy:  policy,
		clock:   clk,
		uniform: rand.Float64,
		logger:  logger.With().Str("component", "BackoffResolver").Logger(),
	}
}

// Execute retries op until it succeeds, the policy stops it, or ctx is
// canceled. firstErr is the error from the caller's own first try; if the
// policy deems it non-retryable no attempt is made. Cancellation is checked
// before every wait and before every re-invocation. onError fires after each
// failed attempt so the caller can publish intermediate state.
func (r *Resolver[T]) Execute(ctx context.Context, firstErr error, op Operation[T], onError ErrorHook) (T, error) {
	var zero T

	lastErr := firstErr
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if !r.policy.Retryable(lastErr) {
			r.logger.Debug().Err(lastErr).Msg("Error is not retryable, giving up.")
			break
		}

		delay := r.policy.Delay(attempt, r.uniform)
		r.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("Waiting before retry attempt.")

		timer := r.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry canceled before attempt %d: %w", attempt, ctx.Err())
		case <-timer.C():
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry canceled before attempt %d: %w", attempt, ctx.Err())
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if onError != nil {
			onError(err, attempt)
		}
	}

	return zero, lastErr
}
