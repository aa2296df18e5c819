// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package breaker

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt. Attempt is
// zero-based: the delay returned for attempt N is slept before invocation
// N+1.
type BackoffStrategy interface {
	Delay(attempt int, base, max time.Duration) time.Duration
}

// FixedBackoff waits the base delay between every attempt, capped at max.
type FixedBackoff struct{}

// Delay returns the constant base delay, capped.
func (FixedBackoff) Delay(_ int, base, max time.Duration) time.Duration {
	return capDelay(base, max)
}

// LinearBackoff grows the delay linearly: base * (attempt + 1), capped.
type LinearBackoff struct{}

// Delay returns base*(attempt+1), capped.
func (LinearBackoff) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return capDelay(time.Duration(attempt+1)*base, max)
}

// ExponentialBackoff doubles the delay each attempt: base * 2^attempt,
// capped, optionally jittered. With Jitter j in (0,1] the computed delay is
// scaled by a uniform factor in [1-j, 1]; j=0 is deterministic.
type ExponentialBackoff struct {
	Jitter float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExponentialBackoff returns an exponential strategy with the given
// jitter factor, clamped to [0,1].
func NewExponentialBackoff(jitter float64) *ExponentialBackoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &ExponentialBackoff{
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns base*2^attempt capped at max, scaled by the jitter factor.
func (b *ExponentialBackoff) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && d > float64(max) {
		d = float64(max)
	}

	if b.Jitter > 0 {
		b.mu.Lock()
		if b.rng == nil {
			b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		factor := 1.0 - b.Jitter*b.rng.Float64()
		b.mu.Unlock()
		d *= factor
	}

	return time.Duration(d)
}

// StrategyByName maps configuration names to backoff strategies. Unknown
// names fall back to exponential.
func StrategyByName(name string, jitter float64) BackoffStrategy {
	switch name {
	case "fixed":
		return FixedBackoff{}
	case "linear":
		return LinearBackoff{}
	default:
		return NewExponentialBackoff(jitter)
	}
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
