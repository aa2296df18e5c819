// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// StatusProvider exposes a component's stable status map, e.g. the
// circuit breaker's name/state/stats/config/timing/is_healthy contract.
type StatusProvider interface {
	Status() map[string]interface{}
}

// StatsProvider exposes a component's stats map, e.g. the response cache's
// hits/misses/hit_rate/size/evictions contract.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Collector is a thread-safe sink for completed-request metrics. It keeps
// a bounded FIFO window of ResponseMetric values and per-route aggregates
// whose latency statistics are recomputed from the retained window on each
// record. A single mutex guards all mutation; snapshot methods copy under
// the same mutex and return immediately.
type Collector struct {
	mu         sync.Mutex
	maxHistory int
	window     []ResponseMetric
	aggregates map[string]*RouteAggregate
	rejected   int64
	startTime  time.Time

	breaker StatusProvider
	cache   StatsProvider
}

// DefaultMaxHistory bounds the metric window when no size is configured.
const DefaultMaxHistory = 1000

// NewCollector creates a collector retaining at most maxHistory metrics.
func NewCollector(maxHistory int) *Collector {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Collector{
		maxHistory: maxHistory,
		window:     make([]ResponseMetric, 0, maxHistory),
		aggregates: make(map[string]*RouteAggregate),
		startTime:  time.Now(),
	}
}

// AttachBreaker registers a circuit breaker whose status is embedded in
// summaries and stamped on recorded metrics.
func (c *Collector) AttachBreaker(p StatusProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker = p
}

// AttachCache registers a response cache whose stats are embedded in
// summaries.
func (c *Collector) AttachCache(p StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = p
}

// RecordResponse validates and appends one completed-request metric,
// updating the matching route aggregate. Negative latency or lengths are
// rejected with ValidationError. Recording is best-effort for callers: a
// returned error must never alter the underlying operation's outcome.
func (c *Collector) RecordResponse(m ResponseMetric) error {
	if m.RouteType == "" {
		return c.reject(&ValidationError{Field: "route_type", Reason: "must not be empty"})
	}
	if m.LatencyMs < 0 {
		return c.reject(&ValidationError{Field: "latency_ms", Reason: "must not be negative"})
	}
	if m.QueryLength < 0 {
		return c.reject(&ValidationError{Field: "query_length", Reason: "must not be negative"})
	}
	if m.ResponseLength < 0 {
		return c.reject(&ValidationError{Field: "response_length", Reason: "must not be negative"})
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m.BreakerState == "" && c.breaker != nil {
		if state, ok := c.breaker.Status()["state"].(string); ok {
			m.BreakerState = state
		}
	}

	c.window = append(c.window, m)
	if len(c.window) > c.maxHistory {
		c.window = c.window[len(c.window)-c.maxHistory:]
	}

	agg, ok := c.aggregates[m.RouteType]
	if !ok {
		agg = &RouteAggregate{RouteType: m.RouteType, ErrorsByType: make(map[string]int64)}
		c.aggregates[m.RouteType] = agg
	}
	agg.TotalRequests++
	if m.Success {
		agg.SuccessCount++
	} else {
		agg.FailureCount++
		if m.ErrorType != "" {
			agg.ErrorsByType[m.ErrorType]++
		}
	}
	if m.CacheHit {
		agg.CacheHits++
	}

	// Latency percentiles reflect the retained window, not all-time
	// history: recompute from the samples still in the buffer.
	agg.Latency.Update(c.retainedLatenciesLocked(m.RouteType))

	return nil
}

func (c *Collector) reject(err *ValidationError) error {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
	return err
}

// retainedLatenciesLocked collects latency samples for a route from the
// current window. Must be called with the lock held.
func (c *Collector) retainedLatenciesLocked(routeType string) []float64 {
	samples := make([]float64, 0, len(c.window))
	for i := range c.window {
		if c.window[i].RouteType == routeType {
			samples = append(samples, c.window[i].LatencyMs)
		}
	}
	return samples
}

// Retained returns a copy of the currently retained metric window, oldest
// first.
func (c *Collector) Retained() []ResponseMetric {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ResponseMetric, len(c.window))
	copy(out, c.window)
	return out
}

// Summary returns a point-in-time snapshot. Repeated calls without
// intervening records return identical values apart from the snapshot
// timestamp fields.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total, success, cacheHits int64
	routes := make(map[string]RouteAggregate, len(c.aggregates))
	for name, agg := range c.aggregates {
		routes[name] = agg.clone()
		total += agg.TotalRequests
		success += agg.SuccessCount
		cacheHits += agg.CacheHits
	}

	s := Summary{
		Timestamp:       time.Now(),
		UptimeSeconds:   int64(time.Since(c.startTime).Seconds()),
		TotalRequests:   total,
		RetainedMetrics: len(c.window),
		RejectedMetrics: c.rejected,
		Routes:          routes,
	}
	if total > 0 {
		s.SuccessRate = float64(success) / float64(total)
		s.CacheHitRate = float64(cacheHits) / float64(total)
	}

	if c.breaker != nil {
		s.Breaker = c.breaker.Status()
	}
	if c.cache != nil {
		s.Cache = c.cache.Stats()
	}

	return s
}

// Export renders the summary as JSON with the stable top-level keys
// overview, routes and components. These keys are part of the external
// diagnostics contract.
func (c *Collector) Export() ([]byte, error) {
	s := c.Summary()

	out := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}

	set("overview.timestamp", s.Timestamp.Format(time.RFC3339Nano))
	set("overview.uptime_seconds", s.UptimeSeconds)
	set("overview.total_requests", s.TotalRequests)
	set("overview.success_rate", s.SuccessRate)
	set("overview.cache_hit_rate", s.CacheHitRate)
	set("overview.retained_metrics", s.RetainedMetrics)
	set("overview.rejected_metrics", s.RejectedMetrics)

	for name, agg := range s.Routes {
		set("routes."+name, agg)
	}
	if len(s.Routes) == 0 {
		set("routes", map[string]interface{}{})
	}

	set("components", map[string]interface{}{})
	if s.Breaker != nil {
		set("components.circuit_breaker", s.Breaker)
	}
	if s.Cache != nil {
		set("components.cache", s.Cache)
	}

	if err != nil {
		log.Errorf("Failed to export telemetry summary: %v", err)
		return nil, err
	}
	return out, nil
}

// Reset clears the window and all aggregates. Primarily useful in tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = c.window[:0]
	c.aggregates = make(map[string]*RouteAggregate)
	c.rejected = 0
	c.startTime = time.Now()
}
