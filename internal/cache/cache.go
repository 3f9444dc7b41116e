// Package cache provides bounded TTL caches for tool results and model
// responses, keyed by a content hash of the invocation.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its lifecycle timestamps.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int64
}

// Stats exposes cache counters for observability. Counters are monotonically
// non-decreasing.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Cache is a bounded-size map with per-entry TTL. At capacity, Set evicts the
// single oldest-by-creation entry. Expired entries are evicted on read and
// never resurrected.
type Cache[V any] struct {
	mu        sync.Mutex
	entries   map[string]*Entry[V]
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
}

// Options configures a Cache.
type Options struct {
	// TTL is the default entry lifetime. Non-positive values fall back to
	// 5 minutes.
	TTL time.Duration

	// MaxSize bounds the entry count. Non-positive values fall back to 500.
	MaxSize int
}

// New creates a cache.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 500
	}
	return &Cache[V]{
		entries: make(map[string]*Entry[V]),
		maxSize: opts.MaxSize,
		ttl:     opts.TTL,
	}
}

// Get returns the cached value if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock (for testing).
func (c *Cache[V]) GetAt(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if !now.Before(entry.ExpiresAt) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return zero, false
	}
	entry.Hits++
	c.hits++
	return entry.Value, true
}

// Set stores a value with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL. Non-positive TTLs fall back
// to the default; entries are never created already expired.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.SetAt(key, value, ttl, time.Now())
}

// SetAt is SetWithTTL with an explicit clock (for testing).
func (c *Cache[V]) SetAt(key string, value V, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = &Entry[V]{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// evictOldestLocked removes the oldest-by-creation entry.
func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey = k
			oldest = e.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Delete removes a specific key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[V])
}

// Size returns the current entry count, pruning expired entries first so the
// count reflects only live entries.
func (c *Cache[V]) Size() int {
	return c.SizeAt(time.Now())
}

// SizeAt is Size with an explicit clock (for testing).
func (c *Cache[V]) SizeAt(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			c.evictions++
		}
	}
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
