// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry provides a thread-safe sink recording every completed
// request and producing percentile-accurate per-route summaries. It
// observes the routing and reliability components through narrow
// interfaces and never depends on them.
package telemetry

import (
	"fmt"
	"time"

	"github.com/traylinx/routeguard/internal/stats"
)

// ResponseMetric records one completed request. It is created at
// completion, appended to the bounded window, and never mutated after.
type ResponseMetric struct {
	Timestamp      time.Time `json:"timestamp"`
	RouteType      string    `json:"route_type"`
	LatencyMs      float64   `json:"latency_ms"`
	Success        bool      `json:"success"`
	Intent         string    `json:"intent"`
	QueryLength    int       `json:"query_length"`
	ResponseLength int       `json:"response_length"`
	ErrorType      string    `json:"error_type,omitempty"`
	CacheHit       bool      `json:"cache_hit"`
	BreakerState   string    `json:"circuit_breaker_state,omitempty"`
}

// RouteAggregate holds running totals for one route type. Counters are
// all-time; LatencyStats reflects only the currently retained window.
type RouteAggregate struct {
	RouteType     string             `json:"route_type"`
	TotalRequests int64              `json:"total_requests"`
	SuccessCount  int64              `json:"success_count"`
	FailureCount  int64              `json:"failure_count"`
	CacheHits     int64              `json:"cache_hits"`
	ErrorsByType  map[string]int64   `json:"errors_by_type"`
	Latency       stats.LatencyStats `json:"latency"`
}

// SuccessRate returns the all-time success rate for this route.
func (a *RouteAggregate) SuccessRate() float64 {
	if a.TotalRequests == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(a.TotalRequests)
}

func (a *RouteAggregate) clone() RouteAggregate {
	out := *a
	out.ErrorsByType = make(map[string]int64, len(a.ErrorsByType))
	for k, v := range a.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	return out
}

// Summary is a point-in-time view combining overall totals, the per-route
// breakdown and attached component snapshots.
type Summary struct {
	Timestamp       time.Time                 `json:"timestamp"`
	UptimeSeconds   int64                     `json:"uptime_seconds"`
	TotalRequests   int64                     `json:"total_requests"`
	SuccessRate     float64                   `json:"success_rate"`
	CacheHitRate    float64                   `json:"cache_hit_rate"`
	RetainedMetrics int                       `json:"retained_metrics"`
	RejectedMetrics int64                     `json:"rejected_metrics"`
	Routes          map[string]RouteAggregate `json:"routes"`
	Breaker         map[string]interface{}    `json:"circuit_breaker,omitempty"`
	Cache           map[string]interface{}    `json:"cache,omitempty"`
}

// ValidationError reports malformed metric input rejected by the
// collector.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid metric field %q: %s", e.Field, e.Reason)
}
