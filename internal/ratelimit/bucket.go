// Package ratelimit provides admission control for tool and provider calls.
// Two interchangeable strategies are available, a sliding window and a token
// bucket, plus a composite limiter that chains several strategies.
package ratelimit

import (
	"sync"
	"time"
)

// BucketConfig configures token bucket refill behavior.
type BucketConfig struct {
	// Capacity is the maximum number of tokens a bucket holds.
	Capacity float64

	// RefillAmount is how many tokens are added per RefillInterval.
	RefillAmount float64

	// RefillInterval is the refill period.
	RefillInterval time.Duration
}

// DefaultBucketConfig returns the default bucket configuration.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		Capacity:       20,
		RefillAmount:   10,
		RefillInterval: time.Second,
	}
}

// bucket holds per-key token state. Refill is applied lazily on access.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucket is a keyed token bucket limiter. Each key refills continuously
// at RefillAmount/RefillInterval up to Capacity.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  BucketConfig
	maxKeys int
	nowFunc func() time.Time
}

// NewTokenBucket creates a token bucket limiter.
func NewTokenBucket(config BucketConfig) *TokenBucket {
	if config.Capacity <= 0 {
		config.Capacity = DefaultBucketConfig().Capacity
	}
	if config.RefillAmount <= 0 {
		config.RefillAmount = DefaultBucketConfig().RefillAmount
	}
	if config.RefillInterval <= 0 {
		config.RefillInterval = DefaultBucketConfig().RefillInterval
	}
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		config:  config,
		maxKeys: 10000,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom clock for testing.
func (t *TokenBucket) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowFunc = fn
}

// Check reports whether n tokens are available for the key without
// consuming them.
func (t *TokenBucket) Check(key string, n float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.refillLocked(key)
	return b.tokens >= n
}

// Consume applies accrued refill, then tests and decrements n tokens.
func (t *TokenBucket) Consume(key string, n float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.refillLocked(key)
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// TryRequest tests and consumes n tokens under one lock.
func (t *TokenBucket) TryRequest(key string, n float64) bool {
	return t.Consume(key, n)
}

// Record consumes up to n tokens without an admission test. Used by the
// composite limiter after all sub-limiters have passed their checks.
func (t *TokenBucket) Record(key string, n float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.refillLocked(key)
	b.tokens -= n
	if b.tokens < 0 {
		b.tokens = 0
	}
}

// Tokens returns the current token count for a key.
func (t *TokenBucket) Tokens(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refillLocked(key).tokens
}

// refillLocked returns the bucket for key with accrued refill applied.
func (t *TokenBucket) refillLocked(key string) *bucket {
	now := t.nowFunc()
	b, ok := t.buckets[key]
	if !ok {
		if len(t.buckets) >= t.maxKeys {
			t.pruneLocked()
		}
		b = &bucket{tokens: t.config.Capacity, lastRefill: now}
		t.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		rate := t.config.RefillAmount / t.config.RefillInterval.Seconds()
		b.tokens += elapsed.Seconds() * rate
		if b.tokens > t.config.Capacity {
			b.tokens = t.config.Capacity
		}
		b.lastRefill = now
	}
	return b
}

// pruneLocked drops near-full buckets, which belong to inactive keys.
func (t *TokenBucket) pruneLocked() {
	for key, b := range t.buckets {
		if b.tokens >= t.config.Capacity*0.9 {
			delete(t.buckets, key)
		}
	}
}

// Reset removes the bucket for a key.
func (t *TokenBucket) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, key)
}
