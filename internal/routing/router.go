// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/routeguard/internal/steering"
)

// ResponseLookup is the slice of the response cache the router needs.
type ResponseLookup interface {
	Get(intent, query, contextText string) (string, bool)
}

// Config tunes the routing policy.
type Config struct {
	// ConfidenceThreshold is the minimum confidence for a static route.
	ConfidenceThreshold float64

	// PreferSpeed enables the hybrid path for mid-confidence queries.
	PreferSpeed bool

	// SlowGenerationMs is the dynamic latency above which falling back to
	// a static response is preferred.
	SlowGenerationMs float64
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.SlowGenerationMs <= 0 {
		c.SlowGenerationMs = 5000
	}
	return c
}

// HybridRouter combines the confidence scorer, steering overrides, learned
// pattern performance, and the response cache into one routing decision.
type HybridRouter struct {
	scorer    *ConfidenceScorer
	optimizer *RouteOptimizer
	rules     *steering.Engine
	responses ResponseLookup

	mu          sync.Mutex
	threshold   float64
	preferSpeed bool
	slowMs      float64
	decisions   map[RouteDecision]int64
	overrides   int64
}

// NewHybridRouter wires a router. rules and responses may be nil to disable
// steering and cache lookups.
func NewHybridRouter(cfg Config, optimizer *RouteOptimizer, rules *steering.Engine, responses ResponseLookup) *HybridRouter {
	cfg = cfg.withDefaults()
	return &HybridRouter{
		scorer:      NewConfidenceScorer(),
		optimizer:   optimizer,
		rules:       rules,
		responses:   responses,
		threshold:   cfg.ConfidenceThreshold,
		preferSpeed: cfg.PreferSpeed,
		slowMs:      cfg.SlowGenerationMs,
		decisions:   make(map[RouteDecision]int64),
	}
}

// Route decides how to serve req. When the decision is RouteCacheHit the
// second return value carries the cached response.
func (r *HybridRouter) Route(req Request) (RouteMetrics, string) {
	if r.responses != nil && !req.ForceDynamic {
		if response, ok := r.responses.Get(req.Intent, req.Query, req.ContextText); ok {
			m := RouteMetrics{
				Decision:          RouteCacheHit,
				Confidence:        1.0,
				Reasoning:         "cached response",
				LatencyEstimateMs: 1,
				FallbackAvailable: req.HasStaticResponse,
			}
			r.count(m.Decision)
			return m, response
		}
	}

	if req.ForceDynamic {
		m := RouteMetrics{
			Decision:          RouteDynamic,
			Confidence:        0,
			Reasoning:         "forced",
			LatencyEstimateMs: dynamicLatencyEstimateMs,
			FallbackAvailable: req.HasStaticResponse,
		}
		r.count(m.Decision)
		return m, ""
	}

	if forced, ok := r.steeringOverride(req); ok {
		r.count(forced.Decision)
		return forced, ""
	}

	confidence, reasons := r.scorer.Calculate(req.Query, req.Intent, req.ContextText, req.HasWorkspaceContext)
	confidence = r.applyNudge(PatternKey(req.Query, req.Intent), confidence, &reasons)

	r.mu.Lock()
	threshold := r.threshold
	preferSpeed := r.preferSpeed
	r.mu.Unlock()

	reasoning := fmt.Sprintf("confidence %.2f (%s)", confidence, joinReasons(reasons))
	m := RouteMetrics{
		Confidence:        confidence,
		Reasoning:         reasoning,
		FallbackAvailable: req.HasStaticResponse,
	}

	switch {
	case confidence >= threshold && req.HasStaticResponse:
		m.Decision = RouteStatic
		m.LatencyEstimateMs = staticLatencyEstimateMs
	case confidence >= 0.4 && preferSpeed && req.HasStaticResponse:
		m.Decision = RouteHybrid
		m.LatencyEstimateMs = hybridLatencyEstimateMs
	default:
		m.Decision = RouteDynamic
		m.LatencyEstimateMs = dynamicLatencyEstimateMs
	}

	r.count(m.Decision)
	log.Debugf("Routed %s query to %s: %s", req.Intent, m.Decision, m.Reasoning)
	return m, ""
}

// steeringOverride applies the first matching steering rule. A rule forcing
// static is ignored when no static response exists.
func (r *HybridRouter) steeringOverride(req Request) (RouteMetrics, bool) {
	if r.rules == nil {
		return RouteMetrics{}, false
	}
	rule := r.rules.Match(steering.ContextFor(req.Query, req.Intent, req.HasWorkspaceContext, req.HasStaticResponse))
	if rule == nil {
		return RouteMetrics{}, false
	}
	if rule.Force == "static" && !req.HasStaticResponse {
		return RouteMetrics{}, false
	}

	m := RouteMetrics{
		Reasoning:         fmt.Sprintf("steering rule %q", rule.Name),
		FallbackAvailable: req.HasStaticResponse,
	}
	if rule.Force == "static" {
		m.Decision = RouteStatic
		m.Confidence = 1.0
		m.LatencyEstimateMs = staticLatencyEstimateMs
	} else {
		m.Decision = RouteDynamic
		m.LatencyEstimateMs = dynamicLatencyEstimateMs
	}

	r.mu.Lock()
	r.overrides++
	r.mu.Unlock()
	return m, true
}

// applyNudge shifts confidence by at most 0.05 toward whichever decision
// has worked for this pattern. The nudge is advisory: it never crosses more
// than one policy band on its own.
func (r *HybridRouter) applyNudge(pattern string, confidence float64, reasons *[]string) float64 {
	if r.optimizer == nil {
		return confidence
	}
	decision, ok := r.optimizer.Recommendation(pattern)
	if !ok {
		return confidence
	}
	switch decision {
	case RouteStatic, RouteCacheHit:
		confidence += 0.05
		*reasons = append(*reasons, "pattern favors static")
	case RouteDynamic, RouteHybrid:
		confidence -= 0.05
		*reasons = append(*reasons, "pattern favors dynamic")
	}
	return clamp01(confidence)
}

// ShouldFallback reports whether a failed or slow generation should be
// replaced with the static response.
func (r *HybridRouter) ShouldFallback(m RouteMetrics, generationFailed bool, latencyMs float64) bool {
	if !m.FallbackAvailable {
		return false
	}
	if m.Decision != RouteDynamic && m.Decision != RouteHybrid {
		return false
	}
	r.mu.Lock()
	slowMs := r.slowMs
	r.mu.Unlock()
	return generationFailed || latencyMs > slowMs
}

// RecordOutcome feeds an observed result back into the optimizer, keyed by
// the query's coarse pattern.
func (r *HybridRouter) RecordOutcome(query, intent string, decision RouteDecision, success bool, latencyMs float64) {
	if r.optimizer != nil {
		r.optimizer.Record(PatternKey(query, intent), decision, success, latencyMs)
	}
}

// OptimizeThreshold raises the confidence threshold when static routing is
// misfiring. The threshold only moves up, and never beyond 0.9.
func (r *HybridRouter) OptimizeThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.optimizer == nil {
		return r.threshold
	}

	attempts, successes := 0, 0
	summary := r.optimizer.PerformanceSummary()
	patterns, _ := summary["patterns"].(map[string]any)
	for _, v := range patterns {
		decisions, _ := v.(map[string]any)
		stats, ok := decisions[string(RouteStatic)].(map[string]any)
		if !ok {
			continue
		}
		attempts += stats["attempts"].(int)
		successes += stats["successes"].(int)
	}

	if attempts >= minAttempts && float64(successes)/float64(attempts) < 0.8 {
		raised := r.threshold + 0.05
		if raised > 0.9 {
			raised = 0.9
		}
		if raised > r.threshold {
			log.Infof("Raising confidence threshold %.2f -> %.2f after static misses", r.threshold, raised)
			r.threshold = raised
		}
	}
	return r.threshold
}

// SetConfidenceThreshold applies a new threshold, used by config reload.
// Values outside (0, 1] are ignored.
func (r *HybridRouter) SetConfidenceThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}
	r.mu.Lock()
	r.threshold = threshold
	r.mu.Unlock()
}

// ConfidenceThreshold returns the active threshold.
func (r *HybridRouter) ConfidenceThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// Stats reports decision counters and the current policy settings.
func (r *HybridRouter) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	decisions := make(map[string]int64, len(r.decisions))
	var total int64
	for d, n := range r.decisions {
		decisions[string(d)] = n
		total += n
	}

	stats := map[string]any{
		"total_requests":       total,
		"decisions":            decisions,
		"steering_overrides":   r.overrides,
		"confidence_threshold": r.threshold,
		"prefer_speed":         r.preferSpeed,
	}
	if r.rules != nil {
		stats["steering_rules"] = r.rules.Len()
	}
	if r.optimizer != nil {
		stats["optimizer"] = r.optimizer.PerformanceSummary()
	}
	return stats
}

func (r *HybridRouter) count(d RouteDecision) {
	r.mu.Lock()
	r.decisions[d]++
	r.mu.Unlock()
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, ", ")
}
