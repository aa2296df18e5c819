// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package breaker

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the protected operation.
type CircuitOpenError struct {
	// Name identifies the breaker that rejected the call.
	Name string
	// RetryAfter is the remaining time before the breaker will probe again.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (retry after %s)", e.Name, e.RetryAfter)
}

// RetryExhaustedError is returned when all retry attempts have failed.
type RetryExhaustedError struct {
	// Attempts is the total number of invocations performed.
	Attempts int
	// LastErr is the error from the final attempt.
	LastErr error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// TimeoutError is returned when a single attempt exceeds its time bound.
// It is recorded as a circuit breaker failure.
type TimeoutError struct {
	// Timeout is the bound that was exceeded.
	Timeout time.Duration
	// Attempt is the zero-based attempt index that timed out.
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d exceeded timeout of %s", e.Attempt+1, e.Timeout)
}

// OperationError wraps an error raised by the protected operation,
// preserving the underlying type name for telemetry classification.
type OperationError struct {
	// TypeName is the concrete type of the wrapped error.
	TypeName string
	// Err is the original error.
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed (%s): %v", e.TypeName, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// ErrorTypeName exposes the wrapped type name to layers that classify
// errors without importing this package.
func (e *OperationError) ErrorTypeName() string { return e.TypeName }

// ErrorTypeName returns a short, package-free name for the concrete type
// of err, suitable as an error-type label in telemetry.
func ErrorTypeName(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		// Unnamed types (e.g. errors.New values) fall back to the full
		// type string with the package path stripped.
		name = t.String()
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
	}
	return name
}
