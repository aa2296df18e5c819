// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing decides, per request, whether a canned static response is
// good enough or the request must go to the dynamic generation path. The
// decision combines a deterministic confidence score, steering overrides,
// and observed per-pattern performance.
package routing

// RouteDecision is the routing outcome for one request.
type RouteDecision string

const (
	// RouteStatic serves a pre-built static response.
	RouteStatic RouteDecision = "static"

	// RouteDynamic sends the request to the generation backend.
	RouteDynamic RouteDecision = "dynamic"

	// RouteHybrid serves the static response immediately and schedules a
	// dynamic refinement.
	RouteHybrid RouteDecision = "hybrid"

	// RouteCacheHit serves a previously cached response.
	RouteCacheHit RouteDecision = "cache_hit"
)

// ParseDecision maps a wire string to a RouteDecision.
func ParseDecision(s string) (RouteDecision, bool) {
	switch RouteDecision(s) {
	case RouteStatic, RouteDynamic, RouteHybrid, RouteCacheHit:
		return RouteDecision(s), true
	}
	return "", false
}

// RouteMetrics describes one routing decision and its expected cost.
type RouteMetrics struct {
	Decision          RouteDecision `json:"decision"`
	Confidence        float64       `json:"confidence"`
	Reasoning         string        `json:"reasoning"`
	LatencyEstimateMs float64       `json:"latency_estimate_ms"`
	FallbackAvailable bool          `json:"fallback_available"`
}

// Request carries everything the router needs to decide.
type Request struct {
	Query               string
	Intent              string
	ContextText         string
	HasWorkspaceContext bool
	HasStaticResponse   bool
	ForceDynamic        bool
}

// Latency estimates per decision, in milliseconds. Static responses are
// local lookups; hybrid pays one round of refinement; dynamic pays full
// generation.
const (
	staticLatencyEstimateMs  = 50
	hybridLatencyEstimateMs  = 500
	dynamicLatencyEstimateMs = 2000
)
