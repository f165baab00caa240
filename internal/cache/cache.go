// Package cache provides the bounded in-memory caches used by the
// retrieval pipeline: an embedding cache (LRU, no expiry), a query-result
// cache and a full-response cache (both LRU with TTL).
//
// Caches are explicitly constructed and injected; there is no package
// state, so tests can build isolated instances. Keys are content hashes
// produced by Key, which keeps raw query text out of cache memory.
//
// All methods are safe for concurrent use.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Size   int     `json:"size"`
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Rate   float64 `json:"hit_rate"`
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a bounded LRU cache with an optional TTL.
// A zero TTL means entries never expire (embeddings for identical text
// are stable, so the embedding cache runs without expiry).
type Cache[V any] struct {
	lru *lru.Cache[string, entry[V]]
	ttl time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time // replaceable in tests
}

// New creates a cache holding at most size entries.
func New[V any](size int, ttl time.Duration) (*Cache[V], error) {
	backing, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &Cache[V]{
		lru: backing,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	if c.ttl > 0 && c.now().Sub(e.insertedAt) > c.ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry if
// the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.lru.Add(key, entry[V]{value: value, insertedAt: c.now()})
}

// InvalidateAll drops every entry. Called when the corpus mutates.
func (c *Cache[V]) InvalidateAll() {
	c.lru.Purge()
}

// InvalidateMatching drops every entry whose key satisfies pred.
func (c *Cache[V]) InvalidateMatching(pred func(key string) bool) {
	for _, key := range c.lru.Keys() {
		if pred(key) {
			c.lru.Remove(key)
		}
	}
}

// Len returns the current number of entries, expired ones included.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Stats returns hit/miss counters accumulated since construction.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Size:   c.lru.Len(),
		Hits:   hits,
		Misses: misses,
		Rate:   rate,
	}
}

// Key builds a cache key by hashing the given parts. Hashing bounds key
// memory and avoids holding raw query text (which may carry PII) as keys.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
