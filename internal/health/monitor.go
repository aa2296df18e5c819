// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package health scores the generation backend from a rolling window of
// check results and produces diagnostic reports for the operator surface.
package health

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/routeguard/internal/stats"
)

// Level is a coarse health band derived from the numeric score.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
	LevelCritical  Level = "critical"
)

// Config tunes the monitor window and rate thresholds.
type Config struct {
	// WindowSize caps the rolling check window.
	WindowSize int

	// HealthyRate and below are success-rate cut points for the score
	// factor. Each must be lower than the previous.
	HealthyRate   float64
	DegradedRate  float64
	UnhealthyRate float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 100
	}
	if c.HealthyRate <= 0 {
		c.HealthyRate = 0.95
	}
	if c.DegradedRate <= 0 {
		c.DegradedRate = 0.8
	}
	if c.UnhealthyRate <= 0 {
		c.UnhealthyRate = 0.5
	}
	return c
}

type checkResult struct {
	Timestamp  time.Time
	Success    bool
	DurationMs float64
	ErrorType  string
}

// BreakerStatus is the view of the circuit breaker the monitor observes.
type BreakerStatus interface {
	Status() map[string]interface{}
}

// Status is one health evaluation.
type Status struct {
	Timestamp           time.Time `json:"timestamp"`
	Level               Level     `json:"level"`
	Score               float64   `json:"score"`
	IsHealthy           bool      `json:"is_healthy"`
	SuccessRate         float64   `json:"success_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ChecksInWindow      int       `json:"checks_in_window"`
	Issues              []string  `json:"issues"`
}

// Monitor keeps a rolling window of check results. Safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	config  Config
	window  []checkResult
	breaker BreakerStatus

	totalChecks         int64
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	startTime           time.Time
}

// NewMonitor creates a monitor with the given config.
func NewMonitor(config Config) *Monitor {
	return &Monitor{
		config:    config.withDefaults(),
		startTime: time.Now(),
	}
}

// SetConfig applies new thresholds, used by config reload. A smaller
// window drops the oldest checks immediately.
func (m *Monitor) SetConfig(config Config) {
	m.mu.Lock()
	m.config = config.withDefaults()
	if len(m.window) > m.config.WindowSize {
		m.window = m.window[len(m.window)-m.config.WindowSize:]
	}
	m.mu.Unlock()
}

// AttachBreaker lets the monitor observe circuit breaker state.
func (m *Monitor) AttachBreaker(b BreakerStatus) {
	m.mu.Lock()
	m.breaker = b
	m.mu.Unlock()
}

// RecordCheck stores one backend check result.
func (m *Monitor) RecordCheck(success bool, durationMs float64, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.window = append(m.window, checkResult{
		Timestamp:  now,
		Success:    success,
		DurationMs: durationMs,
		ErrorType:  errorType,
	})
	if len(m.window) > m.config.WindowSize {
		m.window = m.window[len(m.window)-m.config.WindowSize:]
	}

	m.totalChecks++
	if success {
		m.consecutiveFailures = 0
		m.lastSuccess = now
	} else {
		m.consecutiveFailures++
		m.lastFailure = now
		log.Debugf("Health check failed (%s), %d consecutive", errorType, m.consecutiveFailures)
	}
}

// Status evaluates the current window. With no checks recorded the monitor
// reports healthy with a full score; silence is not evidence of failure.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	s := Status{
		Timestamp:           time.Now(),
		ConsecutiveFailures: m.consecutiveFailures,
		ChecksInWindow:      len(m.window),
		Issues:              []string{},
	}

	if len(m.window) == 0 {
		s.Level = LevelHealthy
		s.Score = 1.0
		s.SuccessRate = 1.0
		s.IsHealthy = true
		return s
	}

	successes := 0
	for _, c := range m.window {
		if c.Success {
			successes++
		}
	}
	s.SuccessRate = float64(successes) / float64(len(m.window))

	score := 1.0
	switch {
	case s.SuccessRate >= m.config.HealthyRate:
		score *= 1.0
	case s.SuccessRate >= m.config.DegradedRate:
		score *= 0.7
		s.Issues = append(s.Issues, "elevated failure rate")
	case s.SuccessRate >= m.config.UnhealthyRate:
		score *= 0.4
		s.Issues = append(s.Issues, "high failure rate")
	default:
		score *= 0.2
		s.Issues = append(s.Issues, "most checks failing")
	}

	if m.consecutiveFailures > 0 {
		penalty := 1.0 - 0.1*float64(m.consecutiveFailures)
		if penalty < 0.2 {
			penalty = 0.2
		}
		score *= penalty
		if m.consecutiveFailures >= 3 {
			s.Issues = append(s.Issues, "consecutive failures")
		}
	}

	if m.breakerOpenLocked() {
		if score > 0.2 {
			score = 0.2
		}
		s.Issues = append(s.Issues, "circuit breaker open")
	}

	s.Score = score
	s.Level = levelFor(score)
	s.IsHealthy = s.Level == LevelHealthy
	return s
}

func levelFor(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelHealthy
	case score >= 0.6:
		return LevelDegraded
	case score >= 0.3:
		return LevelUnhealthy
	default:
		return LevelCritical
	}
}

func (m *Monitor) breakerOpenLocked() bool {
	if m.breaker == nil {
		return false
	}
	state, _ := m.breaker.Status()["state"].(string)
	return state == "open"
}

// Performance summarizes check durations across the window.
func (m *Monitor) Performance() stats.LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	durations := make([]float64, 0, len(m.window))
	for _, c := range m.window {
		durations = append(durations, c.DurationMs)
	}
	return stats.FromSamples(durations)
}

// DiagnosticReport bundles health, performance, breaker state, and
// actionable recommendations.
func (m *Monitor) DiagnosticReport() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.statusLocked()

	durations := make([]float64, 0, len(m.window))
	errorCounts := make(map[string]int)
	for _, c := range m.window {
		durations = append(durations, c.DurationMs)
		if !c.Success && c.ErrorType != "" {
			errorCounts[c.ErrorType]++
		}
	}

	report := map[string]interface{}{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"health":         status,
		"performance":    stats.FromSamples(durations),
		"history": map[string]interface{}{
			"total_checks":   m.totalChecks,
			"window_size":    len(m.window),
			"errors_by_type": errorCounts,
			"last_success":   formatTime(m.lastSuccess),
			"last_failure":   formatTime(m.lastFailure),
		},
		"recommendations": m.recommendationsLocked(status),
	}
	if m.breaker != nil {
		report["circuit_breaker"] = m.breaker.Status()
	}
	return report
}

func (m *Monitor) recommendationsLocked(status Status) []string {
	recs := []string{}
	switch status.Level {
	case LevelCritical:
		recs = append(recs, "route all traffic to static responses until the backend recovers")
	case LevelUnhealthy:
		recs = append(recs, "raise the confidence threshold to favor static responses")
	case LevelDegraded:
		recs = append(recs, "watch failure rate; consider enabling prefer_speed")
	}
	if m.breakerOpenLocked() {
		recs = append(recs, "wait for the recovery timeout before sending probe traffic")
	}
	perf := m.windowP95Locked()
	if perf > 3000 {
		recs = append(recs, "backend latency p95 is high; check upstream load")
	}
	return recs
}

func (m *Monitor) windowP95Locked() float64 {
	durations := make([]float64, 0, len(m.window))
	for _, c := range m.window {
		durations = append(durations, c.DurationMs)
	}
	return stats.FromSamples(durations).P95Ms
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
