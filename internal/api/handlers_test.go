// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/routeguard/internal/breaker"
	"github.com/traylinx/routeguard/internal/cache"
	"github.com/traylinx/routeguard/internal/health"
	"github.com/traylinx/routeguard/internal/routing"
	"github.com/traylinx/routeguard/internal/telemetry"
)

type fakeGenerator struct {
	calls   int32
	failing bool
	answer  string
	delay   time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, query, intent, contextText string) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.failing {
		return "", errors.New("backend down")
	}
	return g.answer, nil
}

type testEnv struct {
	engine    *gin.Engine
	generator *fakeGenerator
	responses *cache.ResponseCache
	collector *telemetry.Collector
	monitor   *health.Monitor
	static    *StaticStore
}

func newTestEnv(t *testing.T, mutate func(*HandlerConfig)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	generator := &fakeGenerator{answer: "generated answer"}
	responses := cache.New(50)
	collector := telemetry.NewCollector(100)
	monitor := health.NewMonitor(health.Config{})
	static := NewStaticStore()
	static.Add("technical", "What is SOLID?", "SOLID is five object-oriented design principles.")

	cb := breaker.New("generation", breaker.Config{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond})
	retry := breaker.NewRetryExecutor(cb, breaker.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Backoff:    breaker.FixedBackoff{},
	})

	router := routing.NewHybridRouter(
		routing.Config{ConfidenceThreshold: 0.7},
		routing.NewRouteOptimizer(0),
		nil,
		responses,
	)

	cfg := HandlerConfig{
		Router:         router,
		Retry:          retry,
		Monitor:        monitor,
		Collector:      collector,
		Responses:      responses,
		Static:         static,
		Generator:      generator,
		AttemptTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine := gin.New()
	NewHandler(cfg).Register(engine)
	return &testEnv{
		engine:    engine,
		generator: generator,
		responses: responses,
		collector: collector,
		monitor:   monitor,
		static:    static,
	}
}

func (e *testEnv) post(t *testing.T, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestRouteEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.post(t, "/v1/route", map[string]any{"query": "What is SOLID?", "intent": "technical"})

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "static", body.Get("decision").String())
	assert.GreaterOrEqual(t, body.Get("confidence").Float(), 0.7)
	assert.True(t, body.Get("fallback_available").Bool())
}

func TestRouteEndpointRequiresQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.post(t, "/v1/route", map[string]any{"intent": "technical"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnswerStatic(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.post(t, "/v1/answer", map[string]any{"query": "What is SOLID?", "intent": "technical"})

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "SOLID is five object-oriented design principles.", body.Get("answer").String())
	assert.Equal(t, "static", body.Get("route.decision").String())
	assert.Zero(t, atomic.LoadInt32(&env.generator.calls))
}

func TestAnswerDynamic(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.post(t, "/v1/answer", map[string]any{
		"query":  "Why does my deployment keep crashing in worker.go line 12",
		"intent": "debugging",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "generated answer", body.Get("answer").String())
	assert.Equal(t, "dynamic", body.Get("route.decision").String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.generator.calls))
}

func TestAnswerDynamicResultIsCached(t *testing.T) {
	env := newTestEnv(t, nil)
	query := map[string]any{"query": "Explain my stack trace in app.py line 3", "intent": "debugging"}

	first := env.post(t, "/v1/answer", query)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.post(t, "/v1/answer", query)
	require.Equal(t, http.StatusOK, second.Code)
	body := gjson.ParseBytes(second.Body.Bytes())
	assert.Equal(t, "cache_hit", body.Get("route.decision").String())
	assert.Equal(t, "generated answer", body.Get("answer").String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.generator.calls))
}

func TestAnswerFallbackOnGenerationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.failing = true
	env.static.SetDefault("debugging", "Try checking the logs for details.")

	w := env.post(t, "/v1/answer", map[string]any{
		"query":  "Why does my cluster panic in main.go line 8",
		"intent": "debugging",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "Try checking the logs for details.", body.Get("answer").String())
	assert.True(t, body.Get("degraded").Bool())
}

func TestAnswerUnavailableWithoutFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.failing = true

	w := env.post(t, "/v1/answer", map[string]any{
		"query":  "Why does my cluster panic in main.go line 8",
		"intent": "debugging",
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAnswerHybridServesStaticImmediately(t *testing.T) {
	env := newTestEnv(t, func(cfg *HandlerConfig) {
		cfg.Router = routing.NewHybridRouter(
			routing.Config{ConfidenceThreshold: 0.7, PreferSpeed: true},
			nil, nil, nil,
		)
	})
	env.static.SetDefault("technical", "Here is a general overview.")

	w := env.post(t, "/v1/answer", map[string]any{
		"query":  "How should I structure my project?",
		"intent": "technical",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "hybrid", body.Get("route.decision").String())
	assert.Equal(t, "Here is a general overview.", body.Get("answer").String())
	assert.True(t, body.Get("refining").Bool())
}

func TestAnswerRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *HandlerConfig) {
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})

	first := env.post(t, "/v1/answer", map[string]any{"query": "hi", "intent": "greeting"})
	require.Equal(t, http.StatusOK, first.Code)

	second := env.post(t, "/v1/answer", map[string]any{"query": "hi", "intent": "greeting"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestFeedbackRaisesThresholdAfterStaticMisses(t *testing.T) {
	env := newTestEnv(t, nil)
	report := map[string]any{
		"query":    "What is SOLID?",
		"intent":   "technical",
		"decision": "static",
		"success":  false,
	}

	// Too few reports to conclude anything yet.
	for i := 0; i < 2; i++ {
		w := env.post(t, "/v1/feedback", report)
		require.Equal(t, http.StatusOK, w.Code)
		assert.InDelta(t, 0.7, gjson.ParseBytes(w.Body.Bytes()).Get("confidence_threshold").Float(), 1e-9)
	}

	w := env.post(t, "/v1/feedback", report)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.75, gjson.ParseBytes(w.Body.Bytes()).Get("confidence_threshold").Float(), 1e-9)
}

func TestFeedbackSuccessKeepsThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	report := map[string]any{
		"query":      "What is SOLID?",
		"intent":     "technical",
		"decision":   "static",
		"success":    true,
		"latency_ms": 40,
	}

	for i := 0; i < 5; i++ {
		w := env.post(t, "/v1/feedback", report)
		require.Equal(t, http.StatusOK, w.Code)
		assert.InDelta(t, 0.7, gjson.ParseBytes(w.Body.Bytes()).Get("confidence_threshold").Float(), 1e-9)
	}
}

func TestFeedbackRejectsUnknownDecision(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.post(t, "/v1/feedback", map[string]any{
		"query":    "What is SOLID?",
		"decision": "telepathic",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.post(t, "/v1/feedback", map[string]any{"query": "What is SOLID?"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, "/v1/answer", map[string]any{"query": "What is SOLID?", "intent": "technical"})

	w := env.get(t, "/v1/status")

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.True(t, body.Get("router").Exists())
	assert.True(t, body.Get("circuit_breaker").Exists())
	assert.True(t, body.Get("health").Exists())
	assert.True(t, body.Get("cache").Exists())
	assert.Equal(t, int64(1), body.Get("router.total_requests").Int())
	assert.Equal(t, "closed", body.Get("circuit_breaker.state").String())
}

func TestSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, "/v1/answer", map[string]any{"query": "What is SOLID?", "intent": "technical"})

	w := env.get(t, "/v1/summary")

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, int64(1), body.Get("overview.total_requests").Int())
	assert.True(t, body.Get("routes.static").Exists())
}

func TestDiagnosticsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get(t, "/v1/diagnostics")

	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.ParseBytes(w.Body.Bytes())
	assert.True(t, body.Get("health").Exists())
	assert.True(t, body.Get("recommendations").Exists())
}

func TestStaticStoreLookup(t *testing.T) {
	store := NewStaticStore()
	store.Add("technical", "What is REST?", "REST is an architectural style.")

	response, ok := store.Lookup("what is   rest?", "technical")
	require.True(t, ok)
	assert.Equal(t, "REST is an architectural style.", response)

	_, ok = store.Lookup("unknown question", "technical")
	assert.False(t, ok)

	response, ok = store.Lookup("anything", "greeting")
	require.True(t, ok)
	assert.NotEmpty(t, response)

	assert.Equal(t, 1, store.Size())
}
