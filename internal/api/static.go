// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"

	"github.com/traylinx/routeguard/internal/cache"
)

// StaticSource resolves canned responses for a query.
type StaticSource interface {
	Lookup(query, intent string) (string, bool)
}

// StaticStore holds canned responses, matched by normalized query within an
// intent, with an optional per-intent default.
type StaticStore struct {
	mu       sync.RWMutex
	byQuery  map[string]map[string]string
	defaults map[string]string
}

// NewStaticStore creates a store preloaded with conversational defaults.
func NewStaticStore() *StaticStore {
	s := &StaticStore{
		byQuery:  make(map[string]map[string]string),
		defaults: make(map[string]string),
	}
	s.SetDefault("greeting", "Hello! How can I help you today?")
	s.SetDefault("farewell", "Goodbye! Come back any time.")
	s.SetDefault("thanks", "You're welcome!")
	return s
}

// Add registers a canned response for an exact query within an intent.
// Queries are normalized the same way the response cache normalizes them.
func (s *StaticStore) Add(intent, query, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byQuery[intent] == nil {
		s.byQuery[intent] = make(map[string]string)
	}
	s.byQuery[intent][cache.NormalizeQuery(query)] = response
}

// SetDefault registers a fallback response for every query of an intent.
func (s *StaticStore) SetDefault(intent, response string) {
	s.mu.Lock()
	s.defaults[intent] = response
	s.mu.Unlock()
}

// Lookup finds a canned response, preferring an exact query match.
func (s *StaticStore) Lookup(query, intent string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byQuery, ok := s.byQuery[intent]; ok {
		if response, ok := byQuery[cache.NormalizeQuery(query)]; ok {
			return response, true
		}
	}
	response, ok := s.defaults[intent]
	return response, ok
}

// Size reports how many exact-query responses are loaded.
func (s *StaticStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byQuery {
		n += len(m)
	}
	return n
}
