// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// typeNamer lets error types override the classified type name without a
// package dependency; the breaker's OperationError implements it to
// surface the wrapped operation error's type.
type typeNamer interface {
	ErrorTypeName() string
}

// Observe times op, infers query/response sizes from the payload shapes,
// classifies any error by type name, records the outcome and returns the
// operation's result unchanged. Recording failures are logged, never
// propagated.
func (c *Collector) Observe(ctx context.Context, routeType, intent, query string, op func(context.Context) (string, error)) (string, error) {
	span := c.StartSpan(routeType, intent)
	response, err := op(ctx)
	span.End(query, response, err)
	return response, err
}

// Span is the scoped-acquisition variant of Observe for call sites that
// need manual control over the recording boundary. End records exactly
// once; further calls are no-ops.
type Span struct {
	c         *Collector
	requestID string
	routeType string
	intent    string
	start     time.Time
	cacheHit  bool
	ended     bool
}

// StartSpan begins timing an operation attributed to the given route type
// and intent.
func (c *Collector) StartSpan(routeType, intent string) *Span {
	return &Span{
		c:         c,
		requestID: uuid.NewString()[:8],
		routeType: routeType,
		intent:    intent,
		start:     time.Now(),
	}
}

// RequestID returns the short request identifier attached to log entries
// for this span.
func (s *Span) RequestID() string { return s.requestID }

// SetCacheHit marks the recorded metric as served from cache.
func (s *Span) SetCacheHit(hit bool) { s.cacheHit = hit }

// End records the outcome. The query and response payloads are only
// measured, never stored.
func (s *Span) End(query, response string, err error) {
	if s.ended {
		return
	}
	s.ended = true

	metric := ResponseMetric{
		Timestamp:      time.Now(),
		RouteType:      s.routeType,
		LatencyMs:      float64(time.Since(s.start).Microseconds()) / 1000.0,
		Success:        err == nil,
		Intent:         s.intent,
		QueryLength:    PayloadLength(query),
		ResponseLength: PayloadLength(response),
		CacheHit:       s.cacheHit,
	}
	if err != nil {
		metric.ErrorType = classifyError(err)
	}

	if recErr := s.c.RecordResponse(metric); recErr != nil {
		log.WithField("request_id", s.requestID).Warnf("Failed to record response metric: %v", recErr)
	}
}

// PayloadLength infers the significant size of a payload. JSON payloads
// following the conventional request/response shapes are measured by
// their content fields; anything else falls back to raw length.
func PayloadLength(payload string) int {
	if payload == "" {
		return 0
	}
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return len(payload)
	}

	for _, path := range []string{"query", "content", "prompt", "text", "response"} {
		if v := gjson.Get(trimmed, path); v.Exists() && v.Type == gjson.String {
			return len(v.String())
		}
	}

	if msgs := gjson.Get(trimmed, "messages"); msgs.IsArray() {
		total := 0
		msgs.ForEach(func(_, m gjson.Result) bool {
			total += len(m.Get("content").String())
			return true
		})
		return total
	}

	return len(payload)
}

// classifyError maps an error to a short type-name label.
func classifyError(err error) string {
	for e := err; e != nil; e = unwrap(e) {
		if tn, ok := e.(typeNamer); ok {
			return tn.ErrorTypeName()
		}
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
	}
	return name
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
