// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNoChecksIsHealthy(t *testing.T) {
	m := NewMonitor(Config{})

	s := m.Status()
	assert.Equal(t, LevelHealthy, s.Level)
	assert.Equal(t, 1.0, s.Score)
	assert.True(t, s.IsHealthy)
	assert.Zero(t, s.ChecksInWindow)
}

func TestStatusAllPassing(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 0; i < 20; i++ {
		m.RecordCheck(true, 120, "")
	}

	s := m.Status()
	assert.Equal(t, LevelHealthy, s.Level)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.True(t, s.IsHealthy)
	assert.Empty(t, s.Issues)
}

func TestStatusDegraded(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 0; i < 10; i++ {
		// 90% success lands between the degraded and healthy cut points.
		m.RecordCheck(i != 0, 120, "timeout")
	}

	s := m.Status()
	assert.Equal(t, LevelDegraded, s.Level)
	assert.InDelta(t, 0.7, s.Score, 1e-9)
	assert.False(t, s.IsHealthy)
	assert.Contains(t, s.Issues, "elevated failure rate")
}

func TestStatusConsecutiveFailurePenalty(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 0; i < 17; i++ {
		m.RecordCheck(true, 120, "")
	}
	for i := 0; i < 3; i++ {
		m.RecordCheck(false, 120, "timeout")
	}

	// 85% success gives the 0.7 factor; three consecutive failures apply
	// a 0.7 penalty on top.
	s := m.Status()
	assert.InDelta(t, 0.49, s.Score, 1e-9)
	assert.Equal(t, LevelUnhealthy, s.Level)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Contains(t, s.Issues, "consecutive failures")
}

func TestStatusMostlyFailingIsCritical(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 0; i < 10; i++ {
		m.RecordCheck(false, 120, "refused")
	}

	s := m.Status()
	assert.Equal(t, LevelCritical, s.Level)
	assert.Less(t, s.Score, 0.3)
	assert.Contains(t, s.Issues, "most checks failing")
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	m := NewMonitor(Config{})
	m.RecordCheck(false, 100, "timeout")
	m.RecordCheck(false, 100, "timeout")
	m.RecordCheck(true, 100, "")

	assert.Zero(t, m.Status().ConsecutiveFailures)
}

type stubBreaker struct{ state string }

func (s stubBreaker) Status() map[string]interface{} {
	return map[string]interface{}{"state": s.state}
}

func TestOpenBreakerForcesCritical(t *testing.T) {
	m := NewMonitor(Config{})
	m.AttachBreaker(stubBreaker{state: "open"})
	for i := 0; i < 20; i++ {
		m.RecordCheck(true, 120, "")
	}

	s := m.Status()
	assert.Equal(t, LevelCritical, s.Level)
	assert.LessOrEqual(t, s.Score, 0.2)
	assert.Contains(t, s.Issues, "circuit breaker open")
}

func TestClosedBreakerDoesNotPenalize(t *testing.T) {
	m := NewMonitor(Config{})
	m.AttachBreaker(stubBreaker{state: "closed"})
	for i := 0; i < 20; i++ {
		m.RecordCheck(true, 120, "")
	}

	assert.Equal(t, LevelHealthy, m.Status().Level)
}

func TestWindowBounded(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 10})
	for i := 0; i < 10; i++ {
		m.RecordCheck(false, 100, "timeout")
	}
	for i := 0; i < 10; i++ {
		m.RecordCheck(true, 100, "")
	}

	// The failures have rolled out of the window entirely.
	s := m.Status()
	assert.Equal(t, 10, s.ChecksInWindow)
	assert.Equal(t, 1.0, s.SuccessRate)
}

func TestPerformanceStats(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 1; i <= 10; i++ {
		m.RecordCheck(true, float64(i*10), "")
	}

	perf := m.Performance()
	assert.Equal(t, 10, perf.Count)
	assert.Equal(t, 10.0, perf.MinMs)
	assert.Equal(t, 100.0, perf.MaxMs)
	assert.InDelta(t, 55.0, perf.P50Ms, 1e-9)
}

func TestDiagnosticReport(t *testing.T) {
	m := NewMonitor(Config{})
	m.AttachBreaker(stubBreaker{state: "open"})
	for i := 0; i < 5; i++ {
		m.RecordCheck(false, 200, "timeout")
	}
	m.RecordCheck(false, 200, "refused")

	report := m.DiagnosticReport()
	require.Contains(t, report, "health")
	require.Contains(t, report, "performance")
	require.Contains(t, report, "circuit_breaker")
	require.Contains(t, report, "recommendations")

	history := report["history"].(map[string]interface{})
	errors := history["errors_by_type"].(map[string]int)
	assert.Equal(t, 5, errors["timeout"])
	assert.Equal(t, 1, errors["refused"])

	recs := report["recommendations"].([]string)
	assert.NotEmpty(t, recs)
	assert.Contains(t, fmt.Sprint(recs), "static responses")
}

func TestHighLatencyRecommendation(t *testing.T) {
	m := NewMonitor(Config{})
	for i := 0; i < 10; i++ {
		m.RecordCheck(true, 4000, "")
	}

	recs := m.DiagnosticReport()["recommendations"].([]string)
	assert.Contains(t, fmt.Sprint(recs), "p95")
}

func TestSetConfigShrinksWindow(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 20})
	for i := 0; i < 20; i++ {
		m.RecordCheck(i < 10, 100, "timeout")
	}

	m.SetConfig(Config{WindowSize: 5})

	// Only the 5 most recent checks remain, all failures.
	s := m.Status()
	assert.Equal(t, 5, s.ChecksInWindow)
	assert.Zero(t, s.SuccessRate)
}

func TestConcurrentChecks(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 50})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				m.RecordCheck(j%7 != 0, float64(j), "timeout")
				m.Status()
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 50, m.Status().ChecksInWindow)
}
