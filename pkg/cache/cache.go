// Package cache provides time-boxed memoization keyed by caller-supplied
// strings. TTL is a property of the call site, not the cache instance, so a
// single cache can be shared across tools as long as keys are namespaced.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache memoizes computed values until their per-entry deadline passes.
// Safe for concurrent use. Concurrent misses on the same key may recompute
// redundantly; the last successful computation wins.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty TTL cache.
func New[V any]() *TTLCache[V] {
	return &TTLCache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key if it has not expired.
// Otherwise it invokes compute exactly once for this call, stores the
// result with the given ttl, and returns it. Failed computations are
// returned to the caller but never cached.
func (c *TTLCache[V]) GetOrCompute(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			slog.Debug("cache hit", "key", key)
			return e.value, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	// Compute outside the lock so a slow fetch on one key never blocks
	// lookups for unrelated keys.
	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	slog.Debug("cache store", "key", key, "ttl", ttl)
	return value, nil
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes expired entries and reports how many were dropped.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Key builds a deterministic cache key from a tool name and the normalized
// argument values that affect its result.
func Key(tool string, args ...string) string {
	parts := append([]string{tool}, args...)
	return strings.Join(parts, ":")
}
