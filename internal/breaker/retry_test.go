package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastExecutor(maxRetries int) *RetryExecutor {
	cb := New("retry-test", Config{FailureThreshold: 100, RecoveryTimeout: time.Minute})
	return NewRetryExecutor(cb, RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Backoff:    FixedBackoff{},
	})
}

func TestRetry_ExhaustsAfterMaxRetries(t *testing.T) {
	exec := newFastExecutor(2)

	invocations := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		invocations++
		return errBoom
	}, 0)

	assert.Equal(t, 3, invocations)

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.ErrorIs(t, err, errBoom)
}

func TestRetry_SucceedsMidway(t *testing.T) {
	exec := newFastExecutor(3)

	invocations := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		invocations++
		if invocations < 2 {
			return errBoom
		}
		return nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, 2, invocations)
}

func TestRetry_OpenBreakerPropagatesImmediately(t *testing.T) {
	cb := New("open", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	exec := NewRetryExecutor(cb, RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, Backoff: FixedBackoff{}})
	ctx := context.Background()

	_ = cb.Call(ctx, failingOp)
	require.Equal(t, StateOpen, cb.State())

	invocations := 0
	err := exec.Execute(ctx, func(context.Context) error {
		invocations++
		return nil
	}, 0)

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, 0, invocations)
}

func TestRetry_TimeoutCountsAsBreakerFailure(t *testing.T) {
	exec := newFastExecutor(0)

	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, 10*time.Millisecond)

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 10*time.Millisecond, te.Timeout)

	stats := exec.Breaker().Stats()
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, stats.TotalCalls, stats.SuccessCount+stats.FailureCount)
}

func TestRetry_AbandonedAttemptRecordsExactlyOneOutcome(t *testing.T) {
	exec := newFastExecutor(0)

	opReturned := make(chan struct{})
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		go func() {
			// The operation outlives the attempt deadline; its late result
			// must be discarded rather than double-recorded.
			time.Sleep(50 * time.Millisecond)
			close(opReturned)
		}()
		<-ctx.Done()
		time.Sleep(60 * time.Millisecond)
		return nil
	}, 5*time.Millisecond)

	require.Error(t, err)
	<-opReturned
	time.Sleep(80 * time.Millisecond)

	stats := exec.Breaker().Stats()
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(0), stats.SuccessCount)
}

func TestRetry_OverallContextBoundsSequence(t *testing.T) {
	cb := New("ctx", Config{FailureThreshold: 100, RecoveryTimeout: time.Minute})
	exec := NewRetryExecutor(cb, RetryConfig{
		MaxRetries: 10,
		BaseDelay:  50 * time.Millisecond,
		Backoff:    FixedBackoff{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := exec.Execute(ctx, failingOp, 0)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBackoff_Fixed(t *testing.T) {
	b := FixedBackoff{}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, 100*time.Millisecond, time.Second))
	assert.Equal(t, 100*time.Millisecond, b.Delay(7, 100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, b.Delay(0, 2*time.Second, time.Second))
}

func TestBackoff_Linear(t *testing.T) {
	b := LinearBackoff{}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, 100*time.Millisecond, time.Second))
	assert.Equal(t, 300*time.Millisecond, b.Delay(2, 100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, b.Delay(50, 100*time.Millisecond, time.Second))
}

func TestBackoff_ExponentialDeterministic(t *testing.T) {
	b := NewExponentialBackoff(0)
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, 100*time.Millisecond, time.Minute))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1, 100*time.Millisecond, time.Minute))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2, 100*time.Millisecond, time.Minute))
	assert.Equal(t, time.Second, b.Delay(20, 100*time.Millisecond, time.Second))
}

func TestProperty_ExponentialJitterRange(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("jittered delay stays within [(1-j)*d, d]", prop.ForAll(
		func(attempt int, jitter float64) bool {
			base := 10 * time.Millisecond
			max := 10 * time.Second

			deterministic := NewExponentialBackoff(0).Delay(attempt, base, max)
			jittered := NewExponentialBackoff(jitter).Delay(attempt, base, max)

			lower := time.Duration(float64(deterministic) * (1 - jitter))
			return jittered >= lower && jittered <= deterministic
		},
		gen.IntRange(0, 8),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestStrategyByName(t *testing.T) {
	assert.IsType(t, FixedBackoff{}, StrategyByName("fixed", 0))
	assert.IsType(t, LinearBackoff{}, StrategyByName("linear", 0))
	assert.IsType(t, &ExponentialBackoff{}, StrategyByName("exponential", 0.5))
	assert.IsType(t, &ExponentialBackoff{}, StrategyByName("", 0))

	var te *TimeoutError
	assert.False(t, errors.As(errBoom, &te))
}
