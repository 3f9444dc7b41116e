// Package fallback routes completion requests across a priority-ordered
// provider chain. Each provider is wrapped in its own circuit breaker, so a
// provider that keeps failing is skipped without waiting on its timeouts.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/reactor/internal/breaker"
	"github.com/haasonsaas/reactor/internal/cache"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/pkg/models"
)

// ErrNoProviders is returned when the chain has no registered providers.
var ErrNoProviders = errors.New("fallback: no providers registered")

// ErrAllProvidersFailed wraps the per-provider errors when every provider in
// the chain failed or was rejected by its breaker.
var ErrAllProvidersFailed = errors.New("fallback: all providers failed")

// OnFallback is notified when the chain moves past a failed provider.
type OnFallback func(failedProvider, nextProvider string, cause error)

// Result pairs a provider response with the provider that produced it.
type Result struct {
	Response *providers.LLMResponse
	Provider string
	// Attempt is 1-based: 1 means the primary provider answered.
	Attempt int
}

type entry struct {
	provider providers.LLMProvider
	breaker  *breaker.Breaker
	priority int
}

// Chain is a priority-ordered provider list with per-provider circuit
// breakers. It is safe for concurrent use.
type Chain struct {
	mu         sync.RWMutex
	entries    []*entry
	enabled    bool
	preferred  string
	logger     *observability.Logger
	onFallback OnFallback
	breakerCfg breaker.Config
	onBreaker  breaker.OnTransition
	respCache  *cache.ResponseCache
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the chain logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// WithOnFallback registers a fallback notification callback.
func WithOnFallback(fn OnFallback) Option {
	return func(c *Chain) { c.onFallback = fn }
}

// WithBreakerConfig overrides the default breaker thresholds applied to each
// registered provider.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(c *Chain) { c.breakerCfg = cfg }
}

// WithBreakerTransitionHook observes breaker state changes across all
// providers in the chain.
func WithBreakerTransitionHook(fn breaker.OnTransition) Option {
	return func(c *Chain) { c.onBreaker = fn }
}

// WithPreferred names the provider every Complete call tries first, ahead
// of priority order, as long as its breaker admits the attempt.
func WithPreferred(name string) Option {
	return func(c *Chain) { c.preferred = name }
}

// WithResponseCache caches text-only completions keyed by the primary
// provider's model and the request content. Responses carrying tool calls are
// never cached.
func WithResponseCache(rc *cache.ResponseCache) Option {
	return func(c *Chain) { c.respCache = rc }
}

// NewChain creates an enabled chain with no providers.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		enabled:    true,
		logger:     observability.NopLogger(),
		breakerCfg: breaker.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a provider at the given priority with the chain's default
// breaker thresholds. Lower priority runs first.
func (c *Chain) Register(p providers.LLMProvider, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(p, priority, c.breakerCfg)
}

// RegisterWithBreaker adds a provider with its own breaker thresholds.
func (c *Chain) RegisterWithBreaker(p providers.LLMProvider, priority int, cfg breaker.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(p, priority, cfg)
}

func (c *Chain) registerLocked(p providers.LLMProvider, priority int, cfg breaker.Config) {
	var bopts []breaker.Option
	if c.onBreaker != nil {
		bopts = append(bopts, breaker.WithTransitionHook(c.onBreaker))
	}
	c.entries = append(c.entries, &entry{
		provider: p,
		breaker:  breaker.New(p.Name(), cfg, bopts...),
		priority: priority,
	})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].priority < c.entries[j].priority
	})
}

// SetEnabled toggles fallback. When disabled, only the primary provider is
// tried and its error is returned directly.
func (c *Chain) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether fallback past the primary provider is allowed.
func (c *Chain) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Providers returns provider names in priority order.
func (c *Chain) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.provider.Name()
	}
	return names
}

// BreakerStats returns a snapshot of every provider's breaker.
func (c *Chain) BreakerStats() []breaker.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := make([]breaker.Stats, len(c.entries))
	for i, e := range c.entries {
		stats[i] = e.breaker.Stats()
	}
	return stats
}

// Complete tries providers in priority order until one succeeds, starting
// with the configured preferred provider when one is set. Providers whose
// breaker is open are skipped without a call. When fallback is disabled,
// only the first provider in the resulting order is attempted.
func (c *Chain) Complete(ctx context.Context, req *providers.CompletionRequest) (*Result, error) {
	c.mu.RLock()
	preferred := c.preferred
	c.mu.RUnlock()
	return c.CompletePreferring(ctx, req, preferred)
}

// CompletePreferring is Complete with an explicit preferred provider for
// this call. The preferred provider is tried first when its breaker admits
// the attempt; otherwise the priority order stands. An empty or unknown
// name falls back to plain priority order.
func (c *Chain) CompletePreferring(ctx context.Context, req *providers.CompletionRequest, preferred string) (*Result, error) {
	c.mu.RLock()
	entries := make([]*entry, len(c.entries))
	copy(entries, c.entries)
	enabled := c.enabled
	c.mu.RUnlock()

	if len(entries) == 0 {
		return nil, ErrNoProviders
	}
	entries = preferFirst(entries, preferred)
	if !enabled {
		entries = entries[:1]
	}

	cacheKey := ""
	if c.respCache != nil {
		cacheKey = requestKey(entries[0].provider.Model(), req)
	}
	if cacheKey != "" {
		if content, hit := c.respCache.Get(cacheKey); hit {
			c.logger.Debug(ctx, "serving completion from response cache")
			return &Result{
				Response: &providers.LLMResponse{Content: content},
				Provider: "cache",
				Attempt:  1,
			}, nil
		}
	}

	var failures []error
	for i, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		name := e.provider.Name()
		var resp *providers.LLMResponse
		err := e.breaker.Execute(func() error {
			var callErr error
			resp, callErr = e.provider.Complete(ctx, req)
			return callErr
		})
		if err == nil {
			if cacheKey != "" && len(resp.ToolCalls) == 0 && resp.Content != "" {
				c.respCache.Set(cacheKey, resp.Content)
			}
			return &Result{Response: resp, Provider: name, Attempt: i + 1}, nil
		}

		if errors.Is(err, breaker.ErrOpen) {
			c.logger.Debug(ctx, "provider skipped, breaker open", "provider", name)
		} else {
			c.logger.Warn(ctx, "provider failed", "provider", name, "error", err)
		}
		failures = append(failures, fmt.Errorf("%s: %w", name, err))

		if i+1 < len(entries) {
			next := entries[i+1].provider.Name()
			c.logger.Info(ctx, "falling back to next provider", "from", name, "to", next)
			if c.onFallback != nil {
				c.onFallback(name, next, err)
			}
		}
	}

	if !enabled && len(failures) == 1 {
		return nil, failures[0]
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(failures...))
}

// preferFirst moves the preferred provider to the front of the attempt
// order, keeping the rest in priority order. An open breaker leaves the
// order untouched so a healthy provider stays first.
func preferFirst(entries []*entry, preferred string) []*entry {
	if preferred == "" {
		return entries
	}
	for i, e := range entries {
		if e.provider.Name() != preferred {
			continue
		}
		if i == 0 || !e.breaker.Allow() {
			return entries
		}
		reordered := make([]*entry, 0, len(entries))
		reordered = append(reordered, e)
		reordered = append(reordered, entries[:i]...)
		reordered = append(reordered, entries[i+1:]...)
		return reordered
	}
	return entries
}

// requestKey hashes the request content for the response cache. Marshal
// failures disable caching for the call rather than erroring.
func requestKey(model string, req *providers.CompletionRequest) string {
	body, err := json.Marshal(struct {
		System    string                `json:"system"`
		Messages  []models.AgentMessage `json:"messages"`
		MaxTokens int                   `json:"max_tokens"`
	}{req.System, req.Messages, req.MaxTokens})
	if err != nil {
		return ""
	}
	return cache.ResponseKey(model, body)
}
