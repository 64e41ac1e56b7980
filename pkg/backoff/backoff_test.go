package backoff_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/backoff"
	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	policy := backoff.Policy{
		MaxAttempts: 5,
		MaxDelay:    30 * time.Second,
		DelayFactor: 3 * time.Second,
	}

	t.Run("Doubles per attempt without jitter", func(t *testing.T) {
		assert.Equal(t, 3*time.Second, policy.Delay(1, nil))
		assert.Equal(t, 6*time.Second, policy.Delay(2, nil))
		assert.Equal(t, 12*time.Second, policy.Delay(3, nil))
		assert.Equal(t, 24*time.Second, policy.Delay(4, nil))
	})

	t.Run("Caps at MaxDelay", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, policy.Delay(5, nil))
		assert.Equal(t, 30*time.Second, policy.Delay(20, nil))
	})

	t.Run("Jitter stays within the randomization bounds", func(t *testing.T) {
		jittered := backoff.Policy{
			MaxDelay:            time.Minute,
			DelayFactor:         10 * time.Second,
			RandomizationFactor: 0.5,
		}

		// uniform()=0 maps to the lower bound, uniform()→1 to the upper.
		low := jittered.Delay(1, func() float64 { return 0 })
		high := jittered.Delay(1, func() float64 { return 0.999999 })
		assert.Equal(t, 5*time.Second, low)
		assert.InDelta(t, float64(15*time.Second), float64(high), float64(time.Millisecond))
	})

	t.Run("Never negative", func(t *testing.T) {
		jittered := backoff.Policy{
			MaxDelay:            time.Second,
			DelayFactor:         time.Second,
			RandomizationFactor: 1.0,
		}
		assert.Equal(t, time.Duration(0), jittered.Delay(1, func() float64 { return 0 }))
	})
}

func TestResolver_Execute_RetriesUntilSuccess(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	policy := backoff.Policy{
		MaxAttempts: 3,
		MaxDelay:    30 * time.Second,
		DelayFactor: 3 * time.Second,
	}
	resolver := backoff.NewResolver[string](policy, fake, zerolog.Nop())

	var calls atomic.Int32
	op := func(ctx context.Context) (string, error) {
		if calls.Add(1) < 2 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	}

	var hookAttempts []int
	done := make(chan struct{})
	var value string
	var err error
	go func() {
		defer close(done)
		value, err = resolver.Execute(context.Background(), errors.New("first failure"), op, func(_ error, attempt int) {
			hookAttempts = append(hookAttempts, attempt)
		})
	}()

	// Attempt 1 waits 3s and fails, attempt 2 waits 6s and succeeds.
	fake.BlockUntil(1)
	fake.Advance(3 * time.Second)
	fake.BlockUntil(1)
	fake.Advance(6 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not finish")
	}

	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{1}, hookAttempts, "hook fires only for failed attempts")
}

func TestResolver_Execute_ExhaustsAttempts(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	policy := backoff.Policy{
		MaxAttempts: 2,
		MaxDelay:    30 * time.Second,
		DelayFactor: 3 * time.Second,
	}
	resolver := backoff.NewResolver[int](policy, fake, zerolog.Nop())

	finalErr := errors.New("still broken")
	var calls atomic.Int32
	op := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, finalErr
	}

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = resolver.Execute(context.Background(), errors.New("first failure"), op, nil)
	}()

	fake.BlockUntil(1)
	fake.Advance(3 * time.Second)
	fake.BlockUntil(1)
	fake.Advance(6 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not finish")
	}

	require.ErrorIs(t, err, finalErr)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolver_Execute_NonRetryableStopsImmediately(t *testing.T) {
	policy := backoff.Policy{
		RetryWhen:   func(err error) bool { return false },
		MaxAttempts: 5,
		MaxDelay:    time.Minute,
		DelayFactor: time.Second,
	}
	resolver := backoff.NewResolver[int](policy, clock.NewFake(time.Unix(0, 0)), zerolog.Nop())

	firstErr := errors.New("fatal")
	var calls atomic.Int32
	_, err := resolver.Execute(context.Background(), firstErr, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}, nil)

	require.ErrorIs(t, err, firstErr)
	assert.Zero(t, calls.Load(), "operation must not be re-invoked for a non-retryable error")
}

func TestResolver_Execute_CancellationDuringWait(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	policy := backoff.Policy{
		MaxAttempts: 5,
		MaxDelay:    time.Minute,
		DelayFactor: 10 * time.Second,
	}
	resolver := backoff.NewResolver[int](policy, fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = resolver.Execute(ctx, errors.New("first failure"), func(ctx context.Context) (int, error) {
			t.Error("operation must not run after cancellation")
			return 0, nil
		}, nil)
	}()

	fake.BlockUntil(1)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not observe cancellation")
	}

	require.ErrorIs(t, err, context.Canceled)
}

func TestResolver_Execute_ZeroMaxAttempts(t *testing.T) {
	resolver := backoff.NewResolver[int](backoff.Policy{}, clock.NewFake(time.Unix(0, 0)), zerolog.Nop())

	firstErr := errors.New("only failure")
	_, err := resolver.Execute(context.Background(), firstErr, func(ctx context.Context) (int, error) {
		t.Error("operation must not run when MaxAttempts is zero")
		return 0, nil
	}, nil)

	require.ErrorIs(t, err, firstErr)
}
