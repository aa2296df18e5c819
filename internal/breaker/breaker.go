// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package breaker provides circuit breaker protection and bounded retry
// execution for the dynamic generation path.
//
// The circuit breaker prevents cascading failures by rejecting calls after
// repeated failures. It has three states:
//
//   - Closed: normal operation, calls pass through.
//   - Open: after FailureThreshold consecutive failures, calls are rejected.
//   - Half-Open: after RecoveryTimeout, a single probe tests recovery.
//
// Thread Safety: safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation - calls pass through.
	StateClosed State = iota
	// StateOpen means too many failures - calls are rejected.
	StateOpen
	// StateHalfOpen is testing recovery - a single probe is allowed.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is consecutive successes needed to close from half-open.
	SuccessThreshold int

	// RecoveryTimeout is how long to stay open before probing recovery.
	RecoveryTimeout time.Duration

	// MaxConsecutiveFailures is the hard cap above which the breaker
	// reports unhealthy regardless of overall success rate.
	MaxConsecutiveFailures int

	// HealthyRateWatermark is the minimum all-time success rate for the
	// breaker to report healthy.
	HealthyRateWatermark float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       3,
		SuccessThreshold:       2,
		RecoveryTimeout:        30 * time.Second,
		MaxConsecutiveFailures: 5,
		HealthyRateWatermark:   0.9,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.HealthyRateWatermark <= 0 {
		c.HealthyRateWatermark = d.HealthyRateWatermark
	}
	return c
}

// Stats contains cumulative circuit breaker counters. TotalCalls always
// equals SuccessCount+FailureCount; rejected calls are tracked separately.
type Stats struct {
	TotalCalls          int64     `json:"total_calls"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	RejectedCount       int64     `json:"rejected_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessTime     time.Time `json:"last_success_time"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// CircuitBreaker guards a volatile operation with the circuit breaker
// state machine.
type CircuitBreaker struct {
	name   string
	config Config

	mu                sync.Mutex
	state             State
	stats             Stats
	halfOpenSuccesses int
	probeActive       bool
	lastStateChange   time.Time
}

// New creates a circuit breaker with the given name and configuration.
// Zero config fields fall back to defaults.
func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		config:          config.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call executes op under breaker protection. In the open state it rejects
// immediately with CircuitOpenError without invoking op, unless the
// recovery timeout has elapsed, in which case it transitions to half-open
// and allows exactly one in-flight probe. Operation errors are wrapped in
// OperationError; TimeoutError values pass through unchanged so retry
// layers can identify them.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := op(ctx)
	if err == nil {
		cb.RecordSuccess()
		return nil
	}

	cb.RecordFailure()

	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return err
	}
	return &OperationError{TypeName: ErrorTypeName(err), Err: err}
}

// acquire decides whether a call may proceed, transitioning open→half-open
// when the recovery timeout has elapsed.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := time.Since(cb.stats.LastFailureTime)
		if elapsed < cb.config.RecoveryTimeout {
			cb.stats.RejectedCount++
			return &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.RecoveryTimeout - elapsed}
		}
		cb.transitionTo(StateHalfOpen)
		cb.probeActive = true
		return nil

	case StateHalfOpen:
		if cb.probeActive {
			cb.stats.RejectedCount++
			return &CircuitOpenError{Name: cb.name}
		}
		cb.probeActive = true
		return nil
	}

	cb.stats.RejectedCount++
	return &CircuitOpenError{Name: cb.name}
}

// RecordSuccess records a successful call. It resets the consecutive
// failure streak and, in half-open, closes the breaker once
// SuccessThreshold consecutive probe successes have been observed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalCalls++
	cb.stats.SuccessCount++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.LastSuccessTime = time.Now()

	if cb.state == StateHalfOpen {
		cb.probeActive = false
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call. From closed it opens the breaker at
// FailureThreshold consecutive failures; from half-open it reopens
// unconditionally.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalCalls++
	cb.stats.FailureCount++
	cb.stats.ConsecutiveFailures++
	cb.stats.LastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// transitionTo changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.probeActive = false
	cb.halfOpenSuccesses = 0
}

// IsHealthy reports whether the breaker considers the guarded dependency
// healthy: false with no recorded successes, false beyond the consecutive
// failure cap, otherwise true only at or above the success-rate watermark.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.isHealthyLocked()
}

func (cb *CircuitBreaker) isHealthyLocked() bool {
	if cb.stats.SuccessCount == 0 {
		return false
	}
	if cb.stats.ConsecutiveFailures > cb.config.MaxConsecutiveFailures {
		return false
	}
	rate := float64(cb.stats.SuccessCount) / float64(cb.stats.TotalCalls)
	return rate >= cb.config.HealthyRateWatermark
}

// Stats returns a snapshot of the cumulative counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Status returns the breaker's externally stable status map. The top-level
// keys (name, state, stats, config, timing, is_healthy) are part of the
// diagnostics contract.
func (cb *CircuitBreaker) Status() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var untilProbe time.Duration
	if cb.state == StateOpen {
		if remaining := cb.config.RecoveryTimeout - time.Since(cb.stats.LastFailureTime); remaining > 0 {
			untilProbe = remaining
		}
	}

	return map[string]interface{}{
		"name":  cb.name,
		"state": cb.state.String(),
		"stats": map[string]interface{}{
			"total_calls":          cb.stats.TotalCalls,
			"success_count":        cb.stats.SuccessCount,
			"failure_count":        cb.stats.FailureCount,
			"rejected_count":       cb.stats.RejectedCount,
			"consecutive_failures": cb.stats.ConsecutiveFailures,
		},
		"config": map[string]interface{}{
			"failure_threshold": cb.config.FailureThreshold,
			"success_threshold": cb.config.SuccessThreshold,
			"recovery_timeout":  cb.config.RecoveryTimeout.String(),
		},
		"timing": map[string]interface{}{
			"last_success_time":  cb.stats.LastSuccessTime,
			"last_failure_time":  cb.stats.LastFailureTime,
			"last_state_change":  cb.lastStateChange,
			"time_in_state":      time.Since(cb.lastStateChange).String(),
			"seconds_until_probe": untilProbe.Seconds(),
		},
		"is_healthy": cb.isHealthyLocked(),
	}
}

// Reset returns the breaker to the closed state and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats = Stats{}
	cb.transitionTo(StateClosed)
}
