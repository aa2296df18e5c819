// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache provides a bounded in-memory cache of previously generated
// dynamic answers, keyed by intent, normalized query and context
// fingerprint. Eviction is LRU; hit/miss/eviction counters feed the
// telemetry summary.
package cache

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one cached dynamic response.
type Entry struct {
	// Key is the composite cache key.
	Key string

	// Response is the cached answer text.
	Response string

	// Timestamp is when the entry was stored.
	Timestamp time.Time

	// element is the LRU list element (for eviction).
	element *list.Element
}

// ResponseCache is a bounded LRU cache of generated answers.
type ResponseCache struct {
	maxSize int

	mu      sync.Mutex
	entries map[string]*Entry
	lruList *list.List

	hits      int64
	misses    int64
	evictions int64
}

// DefaultMaxSize bounds the cache when no size is configured.
const DefaultMaxSize = 500

// New creates a response cache holding at most maxSize entries.
func New(maxSize int) *ResponseCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResponseCache{
		maxSize: maxSize,
		entries: make(map[string]*Entry),
		lruList: list.New(),
	}
}

// Key derives the composite cache key from intent, the normalized query
// and a fingerprint of the conversation context.
func Key(intent, query, contextText string) string {
	h := sha256.Sum256([]byte(contextText))
	return fmt.Sprintf("%s|%s|%x", intent, NormalizeQuery(query), h[:8])
}

// NormalizeQuery lowercases the query and collapses interior whitespace so
// trivially different phrasings share a cache slot.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get looks up a cached response. A found entry is promoted to
// most-recently-used.
func (c *ResponseCache) Get(intent, query, contextText string) (string, bool) {
	key := Key(intent, query, contextText)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	c.hits++
	c.lruList.MoveToFront(entry.element)
	return entry.Response, true
}

// Put stores a generated response, evicting the least recently used entry
// when the cache is full. Storing an existing key refreshes its value and
// recency.
func (c *ResponseCache) Put(intent, query, contextText, response string) {
	key := Key(intent, query, contextText)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.Response = response
		existing.Timestamp = time.Now()
		c.lruList.MoveToFront(existing.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	entry := &Entry{
		Key:       key,
		Response:  response,
		Timestamp: time.Now(),
	}
	entry.element = c.lruList.PushFront(entry)
	c.entries[key] = entry
}

// evictOldestLocked removes the least recently used entry. Must be called
// with the lock held.
func (c *ResponseCache) evictOldestLocked() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*Entry)
	delete(c.entries, entry.Key)
	c.lruList.Remove(oldest)
	c.evictions++
}

// Size returns the current number of cached entries.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries, keeping the counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.lruList = list.New()
}

// Stats returns hit/miss accounting. The keys are part of the external
// diagnostics contract.
func (c *ResponseCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return map[string]interface{}{
		"hits":      c.hits,
		"misses":    c.misses,
		"hit_rate":  hitRate,
		"size":      len(c.entries),
		"evictions": c.evictions,
	}
}
