// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxHistory bounds the raw outcome log.
	DefaultMaxHistory = 200

	// maxPatterns bounds the per-pattern aggregate map. When full, the
	// least recently updated pattern is evicted.
	maxPatterns = 100

	// minAttempts is how many outcomes a decision needs before it can be
	// recommended.
	minAttempts = 3
)

// PatternKey derives a coarse signature grouping similar queries: the
// intent, the leading interrogative, and a length bucket. Exact queries are
// deliberately not part of the key; patterns must aggregate.
func PatternKey(query, intent string) string {
	words := strings.Fields(strings.ToLower(query))

	lead := "other"
	if len(words) > 0 {
		switch words[0] {
		case "what", "how", "why", "when", "where", "who", "explain", "define", "compare":
			lead = words[0]
		}
	}

	size := "short"
	switch {
	case len(words) > 25:
		size = "long"
	case len(words) > 8:
		size = "medium"
	}

	if intent == "" {
		intent = "unknown"
	}
	return intent + ":" + lead + ":" + size
}

// Outcome is one observed routing result.
type Outcome struct {
	Timestamp time.Time     `json:"timestamp"`
	Pattern   string        `json:"pattern"`
	Decision  RouteDecision `json:"decision"`
	Success   bool          `json:"success"`
	LatencyMs float64       `json:"latency_ms"`
}

type decisionStats struct {
	Attempts   int
	Successes  int
	LatencySum float64
}

func (d *decisionStats) successRate() float64 {
	if d.Attempts == 0 {
		return 0
	}
	return float64(d.Successes) / float64(d.Attempts)
}

func (d *decisionStats) meanLatency() float64 {
	if d.Attempts == 0 {
		return 0
	}
	return d.LatencySum / float64(d.Attempts)
}

type patternStats struct {
	byDecision map[RouteDecision]*decisionStats
	lastSeq    uint64
}

// RouteOptimizer learns which decisions work for which query patterns from
// observed outcomes. All state is in memory and bounded.
type RouteOptimizer struct {
	mu         sync.Mutex
	history    []Outcome
	maxHistory int
	patterns   map[string]*patternStats
	seq        uint64
}

// NewRouteOptimizer creates an optimizer retaining up to maxHistory raw
// outcomes. Non-positive maxHistory uses DefaultMaxHistory.
func NewRouteOptimizer(maxHistory int) *RouteOptimizer {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &RouteOptimizer{
		maxHistory: maxHistory,
		patterns:   make(map[string]*patternStats),
	}
}

// Record stores one outcome, evicting the oldest history entry and the
// least recently updated pattern as needed.
func (o *RouteOptimizer) Record(pattern string, decision RouteDecision, success bool, latencyMs float64) {
	if pattern == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, Outcome{
		Timestamp: time.Now(),
		Pattern:   pattern,
		Decision:  decision,
		Success:   success,
		LatencyMs: latencyMs,
	})
	if len(o.history) > o.maxHistory {
		o.history = o.history[len(o.history)-o.maxHistory:]
	}

	ps, ok := o.patterns[pattern]
	if !ok {
		if len(o.patterns) >= maxPatterns {
			o.evictStalestLocked()
		}
		ps = &patternStats{byDecision: make(map[RouteDecision]*decisionStats)}
		o.patterns[pattern] = ps
	}
	o.seq++
	ps.lastSeq = o.seq

	ds, ok := ps.byDecision[decision]
	if !ok {
		ds = &decisionStats{}
		ps.byDecision[decision] = ds
	}
	ds.Attempts++
	if success {
		ds.Successes++
	}
	ds.LatencySum += latencyMs
}

func (o *RouteOptimizer) evictStalestLocked() {
	var stalest string
	var minSeq uint64
	first := true
	for name, ps := range o.patterns {
		if first || ps.lastSeq < minSeq {
			stalest = name
			minSeq = ps.lastSeq
			first = false
		}
	}
	if stalest != "" {
		delete(o.patterns, stalest)
	}
}

// Recommendation returns the best-performing decision for a pattern.
// It returns false when the pattern is unseen, no decision has enough
// outcomes, or the best candidate still fails more often than it succeeds.
func (o *RouteOptimizer) Recommendation(pattern string) (RouteDecision, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.patterns[pattern]
	if !ok {
		return "", false
	}

	var best RouteDecision
	var bestStats *decisionStats
	for decision, ds := range ps.byDecision {
		if ds.Attempts < minAttempts {
			continue
		}
		if bestStats == nil ||
			ds.successRate() > bestStats.successRate() ||
			(ds.successRate() == bestStats.successRate() && ds.meanLatency() < bestStats.meanLatency()) {
			best = decision
			bestStats = ds
		}
	}

	if bestStats == nil || bestStats.successRate() <= 0.5 {
		return "", false
	}
	return best, true
}

// PerformanceSummary reports per-pattern, per-decision aggregates for the
// diagnostics surface.
func (o *RouteOptimizer) PerformanceSummary() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	patterns := make(map[string]any, len(o.patterns))
	for name, ps := range o.patterns {
		decisions := make(map[string]any, len(ps.byDecision))
		for decision, ds := range ps.byDecision {
			decisions[string(decision)] = map[string]any{
				"attempts":        ds.Attempts,
				"successes":       ds.Successes,
				"success_rate":    ds.successRate(),
				"mean_latency_ms": ds.meanLatency(),
			}
		}
		patterns[name] = decisions
	}

	return map[string]any{
		"history_size":  len(o.history),
		"max_history":   o.maxHistory,
		"pattern_count": len(o.patterns),
		"patterns":      patterns,
	}
}

// History returns a copy of the retained raw outcomes, oldest first.
func (o *RouteOptimizer) History() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Outcome, len(o.history))
	copy(out, o.history)
	return out
}
