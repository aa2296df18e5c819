// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package breaker

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig configures the retry executor. It is immutable after
// construction.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt, so up
	// to MaxRetries+1 invocations are performed.
	MaxRetries int

	// BaseDelay is the base backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// Backoff computes the delay between attempts.
	Backoff BackoffStrategy
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Backoff:    NewExponentialBackoff(0),
	}
}

// RetryExecutor retries an operation through a circuit breaker with
// pluggable backoff between attempts.
type RetryExecutor struct {
	breaker *CircuitBreaker
	config  RetryConfig
}

// NewRetryExecutor creates a retry executor bound to the given breaker.
func NewRetryExecutor(cb *CircuitBreaker, config RetryConfig) *RetryExecutor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Backoff == nil {
		config.Backoff = NewExponentialBackoff(0)
	}
	return &RetryExecutor{breaker: cb, config: config}
}

// Breaker returns the circuit breaker the executor routes through.
func (e *RetryExecutor) Breaker() *CircuitBreaker { return e.breaker }

// Execute runs op through the circuit breaker with up to MaxRetries+1
// attempts. Each attempt is bounded by attemptTimeout when positive; a
// timed-out attempt is recorded as a breaker failure. The supplied ctx
// bounds the whole retry sequence including backoff sleeps. An open
// breaker propagates immediately without consuming a retry slot.
// Exhausting all attempts returns RetryExhaustedError.
func (e *RetryExecutor) Execute(ctx context.Context, op func(context.Context) error, attemptTimeout time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.config.Backoff.Delay(attempt-1, e.config.BaseDelay, e.config.MaxDelay)
			log.WithFields(log.Fields{
				"breaker": e.breaker.Name(),
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Debug("Backing off before retry")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := e.breaker.Call(ctx, e.boundAttempt(op, attempt, attemptTimeout))
		if err == nil {
			return nil
		}

		var coe *CircuitOpenError
		if errors.As(err, &coe) {
			// Rejection without invocation: nothing to retry against, and
			// the attempt slot is not consumed.
			return err
		}

		lastErr = err
		if ctx.Err() != nil {
			return err
		}
	}

	return &RetryExhaustedError{Attempts: e.config.MaxRetries + 1, LastErr: lastErr}
}

// boundAttempt wraps op so a single invocation resolves to exactly one
// terminal outcome even when abandoned: on timeout or cancellation the
// attempt fails immediately and the stray result, if it ever arrives, is
// discarded via the buffered channel.
func (e *RetryExecutor) boundAttempt(op func(context.Context) error, attempt int, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- op(attemptCtx)
		}()

		select {
		case err := <-done:
			return err
		case <-attemptCtx.Done():
			if timeout > 0 && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Timeout: timeout, Attempt: attempt}
			}
			return attemptCtx.Err()
		}
	}
}
