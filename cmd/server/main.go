// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command server runs the routeguard API: an adaptive routing and
// reliability layer in front of a response generation backend.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/routeguard/internal/api"
	"github.com/traylinx/routeguard/internal/breaker"
	"github.com/traylinx/routeguard/internal/cache"
	"github.com/traylinx/routeguard/internal/config"
	"github.com/traylinx/routeguard/internal/health"
	"github.com/traylinx/routeguard/internal/logging"
	"github.com/traylinx/routeguard/internal/routing"
	"github.com/traylinx/routeguard/internal/steering"
	"github.com/traylinx/routeguard/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// A .env file is optional; environment variables already set win.
	_ = godotenv.Load()

	logging.SetupBaseLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("Config file %s not found, using defaults", *configPath)
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	logging.SetDebug(cfg.Debug)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, "logs"); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	if upstream := os.Getenv("ROUTEGUARD_UPSTREAM_URL"); upstream != "" {
		cfg.Upstream.URL = upstream
	}
	if cfg.Upstream.URL == "" {
		log.Fatal("No upstream generation URL configured (set upstream.url or ROUTEGUARD_UPSTREAM_URL)")
	}

	handler, router, monitor, rules := buildComponents(cfg)
	server := api.NewServer(cfg.Host, cfg.Port, cfg.Debug, handler)

	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		router.SetConfidenceThreshold(next.Routing.ConfidenceThreshold)
		monitor.SetConfig(health.Config{
			WindowSize:    next.Health.WindowSize,
			HealthyRate:   next.Health.HealthyRate,
			DegradedRate:  next.Health.DegradedRate,
			UnhealthyRate: next.Health.UnhealthyRate,
		})
		rules.Replace(next.SteeringRules)
		logging.SetDebug(next.Debug)
		log.Infof("Applied reloaded config: confidence threshold %.2f, %d steering rules", next.Routing.ConfidenceThreshold, rules.Len())
	})
	if err == nil {
		if err = watcher.Start(); err != nil {
			log.Warnf("Config watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Server exited with error: %v", err)
	}
}

func buildComponents(cfg *config.Config) (*api.Handler, *routing.HybridRouter, *health.Monitor, *steering.Engine) {
	responses := cache.New(cfg.Cache.MaxSize)
	collector := telemetry.NewCollector(cfg.Telemetry.MaxHistory)

	cb := breaker.New("generation", breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		RecoveryTimeout:  time.Duration(cfg.CircuitBreaker.RecoveryTimeoutSeconds) * time.Second,
	})
	retry := breaker.NewRetryExecutor(cb, breaker.RetryConfig{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Backoff:    breaker.StrategyByName(cfg.Retry.Backoff, cfg.Retry.Jitter),
	})

	monitor := health.NewMonitor(health.Config{
		WindowSize:    cfg.Health.WindowSize,
		HealthyRate:   cfg.Health.HealthyRate,
		DegradedRate:  cfg.Health.DegradedRate,
		UnhealthyRate: cfg.Health.UnhealthyRate,
	})
	monitor.AttachBreaker(cb)
	collector.AttachBreaker(cb)
	collector.AttachCache(responses)

	rules := steering.NewEngine(cfg.SteeringRules)
	router := routing.NewHybridRouter(routing.Config{
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		PreferSpeed:         cfg.Routing.PreferSpeed,
		SlowGenerationMs:    cfg.Routing.SlowGenerationMs,
	}, routing.NewRouteOptimizer(0), rules, responses)

	generator := api.NewHTTPGenerator(cfg.Upstream.URL, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)

	handler := api.NewHandler(api.HandlerConfig{
		Router:            router,
		Retry:             retry,
		Monitor:           monitor,
		Collector:         collector,
		Responses:         responses,
		Static:            api.NewStaticStore(),
		Generator:         generator,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		AttemptTimeout:    time.Duration(cfg.Retry.AttemptTimeoutSeconds) * time.Second,
	})
	return handler, router, monitor, rules
}
