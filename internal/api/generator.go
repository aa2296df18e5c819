// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the routing and answering endpoints over HTTP.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// Generator produces a dynamic answer for a query.
type Generator interface {
	Generate(ctx context.Context, query, intent, contextText string) (string, error)
}

// UpstreamError reports a non-success status from the generation backend.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

type generationRequest struct {
	Query   string `json:"query"`
	Intent  string `json:"intent,omitempty"`
	Context string `json:"context,omitempty"`
}

type generationResponse struct {
	Response string `json:"response"`
}

// HTTPGenerator calls a JSON generation endpoint.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

// NewHTTPGenerator creates a generator for the given endpoint.
func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Generate posts the query and returns the backend's response text.
func (g *HTTPGenerator) Generate(ctx context.Context, query, intent, contextText string) (string, error) {
	body, err := json.Marshal(generationRequest{Query: query, Intent: intent, Context: contextText})
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &UpstreamError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out generationResponse
	if err = json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	return out.Response, nil
}
