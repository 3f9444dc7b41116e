package cache

import "sync/atomic"

// charsPerToken is the approximate character-to-token ratio used to estimate
// tokens saved by response cache hits.
const charsPerToken = 4

// ResponseCache caches model responses and accounts for the estimated tokens
// saved by serving hits instead of re-calling the provider.
type ResponseCache struct {
	*Cache[string]
	tokensSaved int64
}

// NewResponseCache creates a response cache.
func NewResponseCache(opts Options) *ResponseCache {
	return &ResponseCache{Cache: New[string](opts)}
}

// Get returns a cached response, crediting the estimated tokens saved on hit.
func (c *ResponseCache) Get(key string) (string, bool) {
	value, ok := c.Cache.Get(key)
	if ok {
		atomic.AddInt64(&c.tokensSaved, int64(len(value)/charsPerToken))
	}
	return value, ok
}

// TokensSaved returns the cumulative estimated tokens saved by hits.
func (c *ResponseCache) TokensSaved() int64 {
	return atomic.LoadInt64(&c.tokensSaved)
}
