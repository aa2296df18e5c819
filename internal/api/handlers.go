// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/traylinx/routeguard/internal/breaker"
	"github.com/traylinx/routeguard/internal/cache"
	"github.com/traylinx/routeguard/internal/health"
	"github.com/traylinx/routeguard/internal/routing"
	"github.com/traylinx/routeguard/internal/telemetry"
)

// Handler bundles the routing, reliability, and observability components
// behind the HTTP endpoints.
type Handler struct {
	router    *routing.HybridRouter
	retry     *breaker.RetryExecutor
	monitor   *health.Monitor
	collector *telemetry.Collector
	responses *cache.ResponseCache
	static    StaticSource
	generator Generator
	limiter   *rate.Limiter

	attemptTimeout time.Duration
	startTime      time.Time
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Router    *routing.HybridRouter
	Retry     *breaker.RetryExecutor
	Monitor   *health.Monitor
	Collector *telemetry.Collector
	Responses *cache.ResponseCache
	Static    StaticSource
	Generator Generator

	// RequestsPerSecond and Burst bound the answer endpoint. A zero rate
	// disables limiting.
	RequestsPerSecond float64
	Burst             int

	// AttemptTimeout bounds one generation attempt.
	AttemptTimeout time.Duration
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		router:         cfg.Router,
		retry:          cfg.Retry,
		monitor:        cfg.Monitor,
		collector:      cfg.Collector,
		responses:      cfg.Responses,
		static:         cfg.Static,
		generator:      cfg.Generator,
		attemptTimeout: cfg.AttemptTimeout,
		startTime:      time.Now(),
	}
	if cfg.RequestsPerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	if h.attemptTimeout <= 0 {
		h.attemptTimeout = 30 * time.Second
	}
	return h
}

// Register attaches all endpoints to the engine.
func (h *Handler) Register(engine *gin.Engine) {
	v1 := engine.Group("/v1")
	v1.POST("/route", h.Route)
	v1.POST("/answer", h.Answer)
	v1.POST("/feedback", h.Feedback)
	v1.GET("/status", h.Status)
	v1.GET("/summary", h.Summary)
	v1.GET("/diagnostics", h.Diagnostics)
}

type queryRequest struct {
	Query        string `json:"query" binding:"required"`
	Intent       string `json:"intent"`
	Context      string `json:"context"`
	Workspace    bool   `json:"workspace"`
	ForceDynamic bool   `json:"force_dynamic"`
}

func (h *Handler) routingRequest(req queryRequest) (routing.Request, string, bool) {
	staticResponse, hasStatic := "", false
	if h.static != nil {
		staticResponse, hasStatic = h.static.Lookup(req.Query, req.Intent)
	}
	return routing.Request{
		Query:               req.Query,
		Intent:              req.Intent,
		ContextText:         req.Context,
		HasWorkspaceContext: req.Workspace,
		HasStaticResponse:   hasStatic,
		ForceDynamic:        req.ForceDynamic,
	}, staticResponse, hasStatic
}

// Route returns the routing decision for a query without serving it.
func (h *Handler) Route(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	rreq, _, _ := h.routingRequest(req)
	m, _ := h.router.Route(rreq)
	c.JSON(http.StatusOK, m)
}

type answerResponse struct {
	Answer   string               `json:"answer"`
	Route    routing.RouteMetrics `json:"route"`
	Degraded bool                 `json:"degraded,omitempty"`
	Refining bool                 `json:"refining,omitempty"`
}

// Answer routes a query and serves the response, falling back to a static
// answer when dynamic generation fails.
func (h *Handler) Answer(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	rreq, staticResponse, hasStatic := h.routingRequest(req)
	m, cached := h.router.Route(rreq)
	span := h.collector.StartSpan(string(m.Decision), req.Intent)

	switch m.Decision {
	case routing.RouteCacheHit:
		span.SetCacheHit(true)
		span.End(req.Query, cached, nil)
		c.JSON(http.StatusOK, answerResponse{Answer: cached, Route: m})

	case routing.RouteStatic:
		span.End(req.Query, staticResponse, nil)
		h.router.RecordOutcome(req.Query, req.Intent, m.Decision, true, m.LatencyEstimateMs)
		c.JSON(http.StatusOK, answerResponse{Answer: staticResponse, Route: m})

	case routing.RouteHybrid:
		h.refineInBackground(req)
		span.End(req.Query, staticResponse, nil)
		h.router.RecordOutcome(req.Query, req.Intent, m.Decision, true, m.LatencyEstimateMs)
		c.JSON(http.StatusOK, answerResponse{Answer: staticResponse, Route: m, Refining: true})

	default:
		answer, elapsedMs, err := h.generate(c, req)
		h.monitor.RecordCheck(err == nil, elapsedMs, breaker.ErrorTypeName(err))
		h.router.RecordOutcome(req.Query, req.Intent, routing.RouteDynamic, err == nil, elapsedMs)
		h.router.OptimizeThreshold()

		if err == nil {
			if h.responses != nil {
				h.responses.Put(req.Intent, req.Query, req.Context, answer)
			}
			span.End(req.Query, answer, nil)
			c.JSON(http.StatusOK, answerResponse{Answer: answer, Route: m})
			return
		}

		span.End(req.Query, "", err)
		if hasStatic && h.router.ShouldFallback(m, true, elapsedMs) {
			log.WithField("request_id", span.RequestID()).
				Warnf("Generation failed, serving static fallback: %v", err)
			c.JSON(http.StatusOK, answerResponse{Answer: staticResponse, Route: m, Degraded: true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation unavailable"})
	}
}

type feedbackRequest struct {
	Query     string  `json:"query" binding:"required"`
	Intent    string  `json:"intent"`
	Decision  string  `json:"decision" binding:"required"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
}

// Feedback records how a served answer worked out for the caller. Repeated
// reports of static answers missing the mark raise the confidence threshold.
func (h *Handler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query and decision are required"})
		return
	}
	decision, ok := routing.ParseDecision(req.Decision)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown decision"})
		return
	}

	h.router.RecordOutcome(req.Query, req.Intent, decision, req.Success, req.LatencyMs)
	c.JSON(http.StatusOK, gin.H{"confidence_threshold": h.router.OptimizeThreshold()})
}

func (h *Handler) generate(c *gin.Context, req queryRequest) (string, float64, error) {
	start := time.Now()
	var answer string
	err := h.retry.Execute(c.Request.Context(), func(ctx context.Context) error {
		out, genErr := h.generator.Generate(ctx, req.Query, req.Intent, req.Context)
		if genErr != nil {
			return genErr
		}
		answer = out
		return nil
	}, h.attemptTimeout)
	return answer, float64(time.Since(start).Microseconds()) / 1000.0, err
}

// refineInBackground generates a dynamic answer after a hybrid response has
// already been served, caching the result for the next ask.
func (h *Handler) refineInBackground(req queryRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*h.attemptTimeout)
		defer cancel()

		start := time.Now()
		var answer string
		err := h.retry.Execute(ctx, func(ctx context.Context) error {
			out, genErr := h.generator.Generate(ctx, req.Query, req.Intent, req.Context)
			if genErr != nil {
				return genErr
			}
			answer = out
			return nil
		}, h.attemptTimeout)

		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
		h.monitor.RecordCheck(err == nil, elapsedMs, breaker.ErrorTypeName(err))
		if err != nil {
			log.Debugf("Hybrid refinement failed: %v", err)
			return
		}
		if h.responses != nil {
			h.responses.Put(req.Intent, req.Query, req.Context, answer)
		}
	}()
}

// Status reports every component's current state.
func (h *Handler) Status(c *gin.Context) {
	status := gin.H{
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"router":         h.router.Stats(),
		"health":         h.monitor.Status(),
	}
	if h.retry != nil {
		status["circuit_breaker"] = h.retry.Breaker().Status()
	}
	if h.responses != nil {
		status["cache"] = h.responses.Stats()
	}
	c.JSON(http.StatusOK, status)
}

// Summary serves the telemetry export.
func (h *Handler) Summary(c *gin.Context) {
	data, err := h.collector.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// Diagnostics serves the health monitor's full report.
func (h *Handler) Diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.DiagnosticReport())
}
