// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the routeguard
// server. It handles loading and parsing YAML configuration files and
// provides structured access to routing policy, reliability, and server
// settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/traylinx/routeguard/internal/steering"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether logs go to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Routing controls the static/dynamic decision policy.
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// CircuitBreaker guards the generation backend.
	CircuitBreaker BreakerConfig `yaml:"circuit-breaker" json:"circuit-breaker"`

	// Retry controls retry behavior for generation calls.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Health tunes the backend health monitor.
	Health HealthConfig `yaml:"health" json:"health"`

	// Telemetry tunes the response metrics window.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Cache tunes the response cache.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// SteeringRules force routing decisions ahead of confidence scoring.
	SteeringRules []steering.Rule `yaml:"steering-rules" json:"steering-rules"`

	// RateLimit bounds the request rate on the answer endpoint.
	RateLimit RateLimitConfig `yaml:"rate-limit" json:"rate-limit"`

	// Upstream points at the generation backend.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`
}

// RoutingConfig controls credential-free routing policy.
type RoutingConfig struct {
	// ConfidenceThreshold is the minimum confidence for a static route.
	ConfidenceThreshold float64 `yaml:"confidence-threshold" json:"confidence-threshold"`
	// PreferSpeed enables the hybrid path for mid-confidence queries.
	PreferSpeed bool `yaml:"prefer-speed" json:"prefer-speed"`
	// SlowGenerationMs marks dynamic responses slower than this as
	// fallback candidates.
	SlowGenerationMs float64 `yaml:"slow-generation-ms" json:"slow-generation-ms"`
}

// BreakerConfig tunes the circuit breaker state machine.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int `yaml:"failure-threshold" json:"failure-threshold"`
	// SuccessThreshold is how many half-open successes close it again.
	SuccessThreshold int `yaml:"success-threshold" json:"success-threshold"`
	// RecoveryTimeoutSeconds is the wait before probing an open circuit.
	RecoveryTimeoutSeconds int `yaml:"recovery-timeout-seconds" json:"recovery-timeout-seconds"`
}

// RetryConfig tunes retry behavior for generation calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max-retries" json:"max-retries"`
	// BaseDelayMs is the starting backoff delay in milliseconds.
	BaseDelayMs int `yaml:"base-delay-ms" json:"base-delay-ms"`
	// MaxDelayMs caps a single backoff delay in milliseconds.
	MaxDelayMs int `yaml:"max-delay-ms" json:"max-delay-ms"`
	// Backoff selects the strategy: "fixed", "linear", or "exponential".
	Backoff string `yaml:"backoff" json:"backoff"`
	// Jitter in [0, 1] randomizes exponential delays.
	Jitter float64 `yaml:"jitter" json:"jitter"`
	// AttemptTimeoutSeconds bounds a single generation attempt.
	AttemptTimeoutSeconds int `yaml:"attempt-timeout-seconds" json:"attempt-timeout-seconds"`
}

// HealthConfig tunes the backend health monitor.
type HealthConfig struct {
	// WindowSize caps the rolling check window.
	WindowSize int `yaml:"window-size" json:"window-size"`
	// HealthyRate is the success rate at or above which the backend is
	// considered fully healthy.
	HealthyRate float64 `yaml:"healthy-rate" json:"healthy-rate"`
	// DegradedRate is the success rate at or above which the backend is
	// merely degraded rather than unhealthy.
	DegradedRate float64 `yaml:"degraded-rate" json:"degraded-rate"`
	// UnhealthyRate is the success rate at or above which the backend is
	// unhealthy rather than critical.
	UnhealthyRate float64 `yaml:"unhealthy-rate" json:"unhealthy-rate"`
}

// TelemetryConfig tunes the response metrics window.
type TelemetryConfig struct {
	// MaxHistory caps retained per-response metrics.
	MaxHistory int `yaml:"max-history" json:"max-history"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	// MaxSize caps cached responses; least recently used entries are
	// evicted first.
	MaxSize int `yaml:"max-size" json:"max-size"`
}

// RateLimitConfig bounds request throughput on the answer endpoint.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests-per-second" json:"requests-per-second"`
	// Burst is the instantaneous burst allowance.
	Burst int `yaml:"burst" json:"burst"`
}

// UpstreamConfig points at the generation backend.
type UpstreamConfig struct {
	// URL is the generation endpoint.
	URL string `yaml:"url" json:"url"`
	// TimeoutSeconds bounds one backend request.
	TimeoutSeconds int `yaml:"timeout-seconds" json:"timeout-seconds"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.Routing.ConfidenceThreshold == 0 {
		c.Routing.ConfidenceThreshold = 0.7
	}
	if c.Routing.SlowGenerationMs == 0 {
		c.Routing.SlowGenerationMs = 5000
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 3
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 2
	}
	if c.CircuitBreaker.RecoveryTimeoutSeconds == 0 {
		c.CircuitBreaker.RecoveryTimeoutSeconds = 30
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Retry.BaseDelayMs == 0 {
		c.Retry.BaseDelayMs = 200
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 5000
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = "exponential"
	}
	if c.Retry.AttemptTimeoutSeconds == 0 {
		c.Retry.AttemptTimeoutSeconds = 30
	}
	if c.Health.WindowSize == 0 {
		c.Health.WindowSize = 100
	}
	if c.Health.HealthyRate == 0 {
		c.Health.HealthyRate = 0.95
	}
	if c.Health.DegradedRate == 0 {
		c.Health.DegradedRate = 0.8
	}
	if c.Health.UnhealthyRate == 0 {
		c.Health.UnhealthyRate = 0.5
	}
	if c.Telemetry.MaxHistory == 0 {
		c.Telemetry.MaxHistory = 1000
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 500
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
}

// Validate rejects values a running server cannot honor.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence-threshold %.2f must be within [0, 1]", c.Routing.ConfidenceThreshold)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter %.2f must be within [0, 1]", c.Retry.Jitter)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	switch c.Retry.Backoff {
	case "fixed", "linear", "exponential":
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.Retry.Backoff)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("requests-per-second must not be negative")
	}
	return nil
}

// LoadConfig reads and parses a YAML config file, applying defaults and
// validating the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
