package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/reactor/internal/cache"
	"github.com/haasonsaas/reactor/internal/events"
	"github.com/haasonsaas/reactor/internal/hooks"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/ratelimit"
	"github.com/haasonsaas/reactor/pkg/models"
)

// ExecutorConfig configures the execution pipeline.
type ExecutorConfig struct {
	// DefaultTimeout bounds a single tool execution. Default: 30s.
	DefaultTimeout time.Duration

	// CacheTTL is the tool cache entry lifetime. Default: 5m.
	CacheTTL time.Duration

	// CacheSize caps the tool cache. Default: 500.
	CacheSize int

	// DisableCache skips cache lookup and write even for cacheable tools.
	DisableCache bool

	// MaxConcurrency limits parallel executions in ExecuteAll. Default: 5.
	MaxConcurrency int
}

// DefaultExecutorConfig returns the default pipeline configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 30 * time.Second,
		CacheTTL:       5 * time.Minute,
		CacheSize:      500,
		MaxConcurrency: 5,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	d := DefaultExecutorConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	return c
}

// ToolOverride holds per-tool configuration overrides.
type ToolOverride struct {
	// Timeout overrides the default execution timeout.
	Timeout time.Duration

	// RateLimitWeight is the cost of one call against the limiter.
	// Zero means weight 1.
	RateLimitWeight float64
}

// CallContext identifies who is making the call and which run it belongs to.
type CallContext struct {
	UserID    string
	SessionID string
	RunID     string
	Iteration int

	// Emitter receives tool lifecycle events when non-nil.
	Emitter *events.Emitter
}

// Stats counts pipeline outcomes.
type Stats struct {
	Executions  int64 `json:"executions"`
	Failures    int64 `json:"failures"`
	Blocked     int64 `json:"blocked"`
	RateLimited int64 `json:"rate_limited"`
	CacheHits   int64 `json:"cache_hits"`
	Panics      int64 `json:"panics"`
	Timeouts    int64 `json:"timeouts"`
}

// Executor runs tool calls through the guarded pipeline: resolve, rate
// limit, cache lookup, pre hooks, schema validation, execution, post hooks,
// cache write, telemetry. Errors surface as failed results, never as
// panics or returned errors.
type Executor struct {
	registry  *Registry
	config    ExecutorConfig
	cache     *cache.Cache[models.ToolResult]
	limiter   ratelimit.Limiter
	hooks     *hooks.Manager
	logger    *observability.Logger
	metrics   *observability.Metrics
	overrides map[string]ToolOverride
	mu        sync.Mutex
	stats     Stats
	sem       chan struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLimiter sets the rate limiter consulted per (userID, toolName).
func WithLimiter(l ratelimit.Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

// WithHooks sets the hook manager.
func WithHooks(m *hooks.Manager) ExecutorOption {
	return func(e *Executor) { e.hooks = m }
}

// WithLogger sets the executor logger.
func WithLogger(logger *observability.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor around a registry.
func NewExecutor(registry *Registry, config ExecutorConfig, opts ...ExecutorOption) *Executor {
	config = config.withDefaults()
	e := &Executor{
		registry: registry,
		config:   config,
		cache: cache.New[models.ToolResult](cache.Options{
			TTL:     config.CacheTTL,
			MaxSize: config.CacheSize,
		}),
		logger:    observability.NopLogger(),
		overrides: make(map[string]ToolOverride),
		sem:       make(chan struct{}, config.MaxConcurrency),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configure sets per-tool overrides.
func (e *Executor) Configure(toolName string, override ToolOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[toolName] = override
}

// Stats returns a snapshot of pipeline counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// CacheStats returns tool cache counters.
func (e *Executor) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// ExecuteAll runs calls in parallel under the concurrency limit and returns
// results in input order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, cc CallContext) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			results[idx] = e.Execute(ctx, tc, cc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs one call through the full pipeline.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, cc CallContext) models.ToolResult {
	start := time.Now()

	// 1. Resolve.
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return e.finish(ctx, call, cc, models.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool not found: " + call.Name,
			IsError:    true,
		}, start, "error")
	}
	if len(call.Input) > MaxToolInputSize {
		return e.finish(ctx, call, cc, models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool input exceeds %d bytes", MaxToolInputSize),
			IsError:    true,
		}, start, "error")
	}

	override := e.override(call.Name)

	// 2. Rate limit, keyed by (userID, toolName).
	if e.limiter != nil {
		weight := override.RateLimitWeight
		if weight <= 0 {
			weight = 1
		}
		key := ratelimit.Key(cc.UserID, call.Name)
		if !e.limiter.TryRequest(key, weight) {
			e.bump(func(s *Stats) { s.RateLimited++ })
			e.count(call.Name, "rate_limited")
			return e.finish(ctx, call, cc, models.ToolResult{
				ToolCallID: call.ID,
				Content:    "rate limit exceeded for tool " + call.Name,
				IsError:    true,
			}, start, "")
		}
	}

	cacheable := IsCacheable(tool) && !e.config.DisableCache
	cacheKey := ""

	// 3. Cache lookup for read-only tools.
	if cacheable {
		cacheKey = cache.ToolKey(cc.UserID, call.Name, call.Input)
		if cached, hit := e.cache.Get(cacheKey); hit {
			e.bump(func(s *Stats) { s.CacheHits++ })
			if e.metrics != nil {
				e.metrics.CacheCounter.WithLabelValues("tool", "hit").Inc()
			}
			cached.ToolCallID = call.ID
			cached.Cached = true
			cached.Duration = time.Since(start)
			if cc.Emitter != nil {
				cc.Emitter.Emit(ctx, models.EventToolCacheHit, map[string]any{
					"tool_name": call.Name,
				})
			}
			return cached
		}
		if e.metrics != nil {
			e.metrics.CacheCounter.WithLabelValues("tool", "miss").Inc()
		}
	}

	hc := &hooks.HookContext{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		UserID:     cc.UserID,
		SessionID:  cc.SessionID,
		Iteration:  cc.Iteration,
		Input:      call.Input,
	}

	// 4. Pre hooks.
	if e.hooks != nil {
		if result := e.hooks.Run(ctx, hooks.PhasePre, hc); result.Decision == hooks.DecisionBlock {
			e.bump(func(s *Stats) { s.Blocked++ })
			e.count(call.Name, "blocked")
			if cc.Emitter != nil {
				cc.Emitter.Emit(ctx, models.EventToolBlocked, map[string]any{
					"tool_name": call.Name,
					"reason":    result.Reason,
				})
			}
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    "blocked by hook: " + result.Reason,
				IsError:    true,
				Duration:   time.Since(start),
			}
		}
		call.Input = hc.Input
	}

	// 5. Schema validation.
	if schema := e.registry.schema(call.Name); schema != nil {
		var value any
		input := call.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(input, &value); err != nil {
			return e.finish(ctx, call, cc, models.ToolResult{
				ToolCallID: call.ID,
				Content:    "invalid tool input: " + err.Error(),
				IsError:    true,
			}, start, "error")
		}
		if err := schema.Validate(value); err != nil {
			return e.finish(ctx, call, cc, models.ToolResult{
				ToolCallID: call.ID,
				Content:    "input failed schema validation: " + err.Error(),
				IsError:    true,
			}, start, "error")
		}
	}

	// 6. Execute with timeout and panic recovery.
	timeout := e.config.DefaultTimeout
	if override.Timeout > 0 {
		timeout = override.Timeout
	}
	content, execErr := e.invoke(ctx, tool, call, timeout)

	result := models.ToolResult{
		ToolCallID: call.ID,
		Content:    content,
		Duration:   time.Since(start),
	}
	if execErr != nil {
		result.Content = execErr.Error()
		result.IsError = true
	}

	// 7. Post hooks.
	if e.hooks != nil {
		hc.Output = result.Content
		hc.IsError = result.IsError
		hc.Duration = result.Duration
		if post := e.hooks.Run(ctx, hooks.PhasePost, hc); post.Decision == hooks.DecisionBlock {
			result.Content = "result blocked by hook: " + post.Reason
			result.IsError = true
		} else {
			result.Content = hc.Output
		}
	}

	// 8. Cache write on success only.
	if cacheable && !result.IsError && cacheKey != "" {
		e.cache.Set(cacheKey, result)
	}

	// 9. Stats and events.
	status := "success"
	if result.IsError {
		status = "error"
	}
	return e.finish(ctx, call, cc, result, start, status)
}

func (e *Executor) invoke(ctx context.Context, tool Tool, call models.ToolCall, timeout time.Duration) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.bump(func(s *Stats) { s.Panics++ })
				e.logger.Error(execCtx, "tool panicked",
					"tool", call.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, r)}
			}
		}()
		content, err := tool.Execute(execCtx, call.Input)
		done <- outcome{content: content, err: err}
	}()

	select {
	case o := <-done:
		return o.content, o.err
	case <-execCtx.Done():
		e.bump(func(s *Stats) { s.Timeouts++ })
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tool %s timed out after %s", call.Name, timeout)
	}
}

// finish applies the telemetry step shared by all pipeline exits.
func (e *Executor) finish(ctx context.Context, call models.ToolCall, cc CallContext, result models.ToolResult, start time.Time, status string) models.ToolResult {
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}

	e.bump(func(s *Stats) {
		s.Executions++
		if result.IsError {
			s.Failures++
		}
	})
	if status != "" {
		e.count(call.Name, status)
	}
	if e.metrics != nil {
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(result.Duration.Seconds())
	}

	if cc.Emitter != nil {
		payload := map[string]any{
			"tool_name":   call.Name,
			"duration_ms": result.Duration.Milliseconds(),
		}
		if result.IsError {
			payload["error"] = result.Content
			cc.Emitter.Emit(ctx, models.EventToolFailed, payload)
		} else {
			cc.Emitter.Emit(ctx, models.EventToolCompleted, payload)
		}
	}
	return result
}

func (e *Executor) override(name string) ToolOverride {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overrides[name]
}

func (e *Executor) bump(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func (e *Executor) count(toolName, status string) {
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	}
}
