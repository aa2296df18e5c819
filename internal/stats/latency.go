// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stats provides latency aggregation shared by the telemetry
// collector and the health monitor. Percentiles use linear interpolation
// over the sorted sample window.
package stats

import "sort"

// LatencyStats summarizes a window of latency samples in milliseconds.
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Update recomputes all fields from the given samples. The input slice is
// not modified. An empty input resets the stats to zero values.
func (s *LatencyStats) Update(values []float64) {
	if len(values) == 0 {
		*s = LatencyStats{}
		return
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	s.Count = len(sorted)
	s.MeanMs = sum / float64(len(sorted))
	s.MinMs = sorted[0]
	s.MaxMs = sorted[len(sorted)-1]
	s.P50Ms = Percentile(sorted, 50)
	s.P95Ms = Percentile(sorted, 95)
	s.P99Ms = Percentile(sorted, 99)
}

// FromSamples returns stats computed over the given samples.
func FromSamples(values []float64) LatencyStats {
	var s LatencyStats
	s.Update(values)
	return s
}

// Percentile returns the p-th percentile (0-100) of an ascending-sorted
// sample set using the linear-interpolated rank method:
//
//	rank = (n-1) * p / 100
//	value = sorted[lower] + frac * (sorted[upper] - sorted[lower])
//
// For ten evenly spaced values 10..100 this yields p50=55.0, p95=95.5
// and p99=99.1.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := float64(n-1) * p / 100.0
	lower := int(rank)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
