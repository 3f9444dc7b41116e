package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/reactor/internal/agenterrors"
	"github.com/haasonsaas/reactor/internal/breaker"
	"github.com/haasonsaas/reactor/internal/cache"
	"github.com/haasonsaas/reactor/internal/compaction"
	"github.com/haasonsaas/reactor/internal/config"
	"github.com/haasonsaas/reactor/internal/events"
	"github.com/haasonsaas/reactor/internal/fallback"
	"github.com/haasonsaas/reactor/internal/hooks"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/plugins"
	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/internal/ratelimit"
	"github.com/haasonsaas/reactor/internal/sessions"
	"github.com/haasonsaas/reactor/internal/tools"
	"github.com/haasonsaas/reactor/internal/usage"
	"github.com/haasonsaas/reactor/pkg/models"
)

// Request is one inbound message for the orchestrator to process.
type Request struct {
	// SessionID selects the conversation. Blank starts a new session.
	SessionID string

	// UserID is the requesting user. Required.
	UserID string

	// Message is the user's message text. Required.
	Message string

	// OnProgress receives live progress events. Optional.
	OnProgress models.ProgressFunc
}

// Orchestrator wires the execution core together and processes messages
// end to end: session restore, loop execution, session persistence.
type Orchestrator struct {
	cfg      *config.Config
	sessions *sessions.Manager
	registry *tools.Registry
	hooks    *hooks.Manager
	bus      *events.Bus
	chain    *fallback.Chain
	executor *tools.Executor
	loop     *Loop
	ledger   *usage.Ledger
	runtime  *plugins.Runtime
	loader   *plugins.Loader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// OrchestratorOption configures construction.
type OrchestratorOption func(*orchestratorDeps)

type orchestratorDeps struct {
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	completer Completer
}

// WithOrchestratorLogger overrides the logger built from config.
func WithOrchestratorLogger(l *observability.Logger) OrchestratorOption {
	return func(d *orchestratorDeps) { d.logger = l }
}

// WithOrchestratorMetrics installs a metrics sink.
func WithOrchestratorMetrics(m *observability.Metrics) OrchestratorOption {
	return func(d *orchestratorDeps) { d.metrics = m }
}

// WithOrchestratorTracer installs a tracer for run, iteration, model-call,
// and tool-execution spans.
func WithOrchestratorTracer(t *observability.Tracer) OrchestratorOption {
	return func(d *orchestratorDeps) { d.tracer = t }
}

// WithCompleter substitutes the LLM call surface, bypassing the configured
// provider chain.
func WithCompleter(c Completer) OrchestratorOption {
	return func(d *orchestratorDeps) { d.completer = c }
}

// NewOrchestrator builds the full execution core from configuration.
// Providers are constructed once here, selected by name; there is no
// runtime string dispatch.
func NewOrchestrator(cfg *config.Config, opts ...OrchestratorOption) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	deps := &orchestratorDeps{}
	for _, opt := range opts {
		opt(deps)
	}
	logger := deps.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
	}

	bus := events.NewBus(logger)
	registry := tools.NewRegistry()
	hookMgr := hooks.NewManager(
		hooks.WithTimeout(cfg.Tools.HookTimeout),
		hooks.WithLogger(logger),
	)

	chain, err := buildChain(cfg, logger, deps.metrics)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewSlidingWindow(ratelimit.WindowConfig{
		MaxRequests: cfg.Tools.RateLimitPerMinute,
		Window:      time.Minute,
	})

	execOpts := []tools.ExecutorOption{
		tools.WithLimiter(limiter),
		tools.WithHooks(hookMgr),
		tools.WithLogger(logger),
	}
	if deps.metrics != nil {
		execOpts = append(execOpts, tools.WithMetrics(deps.metrics))
	}
	executor := tools.NewExecutor(registry, tools.ExecutorConfig{
		DefaultTimeout: cfg.Tools.ExecutionTimeout,
		CacheTTL:       cfg.Tools.CacheTTL,
		CacheSize:      cfg.Tools.CacheSize,
		DisableCache:   !cfg.Agent.CachingEnabled(),
	}, execOpts...)

	ledger := usage.NewLedger(usage.Config{BudgetUSD: cfg.Agent.BudgetUSD})

	compactor := compaction.New(compaction.Config{
		MaxTokensBeforeCompaction: cfg.Agent.CompactionTokenLimit,
		PreserveRecentMessages:    cfg.Agent.PreserveRecentMessages,
	}, compaction.WithLogger(logger))

	loopOpts := []LoopOption{
		WithHooks(hookMgr),
		WithLedger(ledger),
		WithLoopLogger(logger),
	}
	if cfg.Agent.CompactionEnabled() {
		loopOpts = append(loopOpts, WithCompactor(compactor))
	}
	if deps.metrics != nil {
		loopOpts = append(loopOpts, WithLoopMetrics(deps.metrics))
	}
	if deps.tracer != nil {
		loopOpts = append(loopOpts, WithLoopTracer(deps.tracer))
	}
	completer := Completer(chain)
	if deps.completer != nil {
		completer = deps.completer
	}
	loop := NewLoop(completer, executor, registry, cfg.Agent, loopOpts...)

	sessionMgr := sessions.NewManager(sessions.Config{
		MaxMessages:   cfg.Sessions.MaxMessages,
		MaxAge:        cfg.Sessions.MaxAge,
		SweepInterval: cfg.Sessions.SweepInterval,
	}, sessions.WithLogger(logger))

	runtime := plugins.NewRuntime(registry, hookMgr, bus)

	return &Orchestrator{
		cfg:      cfg,
		sessions: sessionMgr,
		registry: registry,
		hooks:    hookMgr,
		bus:      bus,
		chain:    chain,
		executor: executor,
		loop:     loop,
		ledger:   ledger,
		runtime:  runtime,
		loader:   plugins.NewLoader(runtime, plugins.WithLogger(logger)),
		logger:   logger,
		metrics:  deps.metrics,
	}, nil
}

// buildChain constructs the provider fallback chain from config.
func buildChain(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*fallback.Chain, error) {
	chainOpts := []fallback.Option{fallback.WithLogger(logger)}
	if cfg.Providers.Default != "" {
		chainOpts = append(chainOpts, fallback.WithPreferred(cfg.Providers.Default))
	}
	if metrics != nil {
		chainOpts = append(chainOpts,
			fallback.WithOnFallback(func(failed, next string, cause error) {
				metrics.FallbackCounter.WithLabelValues(failed, next).Inc()
			}),
			fallback.WithBreakerTransitionHook(func(name string, from, to breaker.State) {
				metrics.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
			}),
		)
	}
	if cfg.Agent.CachingEnabled() {
		chainOpts = append(chainOpts, fallback.WithResponseCache(cache.NewResponseCache(cache.Options{
			TTL:     cfg.Tools.CacheTTL,
			MaxSize: cfg.Tools.CacheSize,
		})))
	}
	chain := fallback.NewChain(chainOpts...)
	chain.SetEnabled(cfg.Agent.FallbackEnabled())

	for _, pc := range cfg.Providers.Chain {
		provider, err := buildProvider(pc)
		if err != nil {
			return nil, err
		}
		chain.RegisterWithBreaker(provider, pc.Priority, breaker.Config{
			FailureThreshold: pc.FailureThreshold,
			SuccessThreshold: pc.SuccessThreshold,
			RecoveryTimeout:  pc.RecoveryTimeout,
		})
	}
	return chain, nil
}

func buildProvider(pc config.ProviderConfig) (providers.LLMProvider, error) {
	switch pc.Name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			MaxRetries: pc.MaxRetries,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			MaxRetries: pc.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}

// RegisterTool adds a tool to the shared registry.
func (o *Orchestrator) RegisterTool(tool tools.Tool) error {
	return o.registry.Register(tool)
}

// Hooks exposes the hook manager for host registrations.
func (o *Orchestrator) Hooks() *hooks.Manager { return o.hooks }

// Bus exposes the event bus for log/metrics sinks.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Usage exposes the token usage ledger.
func (o *Orchestrator) Usage() *usage.Ledger { return o.ledger }

// Plugins exposes the plugin loader.
func (o *Orchestrator) Plugins() *plugins.Loader { return o.loader }

// Start initializes plugins and launches the session sweeper.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.loader.InitAll(ctx); err != nil {
		return fmt.Errorf("initializing plugins: %w", err)
	}
	o.sessions.Start(ctx)
	return nil
}

// Stop tears down plugins and stops the session sweeper.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.loader.DisposeAll(ctx)
	o.sessions.Stop()
}

// ProcessMessage runs one user message through the full loop and returns
// the execution result. Session history is restored before the run and
// persisted after it.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req Request) (*models.ExecutionResult, error) {
	if req.UserID == "" {
		return nil, agenterrors.New(agenterrors.CodeConfigInvalid, "user id is required")
	}
	if req.Message == "" {
		return nil, agenterrors.New(agenterrors.CodeConfigInvalid, "message is empty")
	}

	session := o.sessions.GetOrCreate(req.SessionID, req.UserID)

	ec := NewExecutionContext(session.ID, req.UserID, session.Messages)
	userMsg := models.AgentMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now(),
	}
	ec.AppendMessage(userMsg)

	emitter := events.NewEmitter(o.bus, ec.RunID())
	o.logger.Info(ctx, "processing message",
		"run_id", ec.RunID(), "session_id", session.ID, "user_id", req.UserID)

	result, err := o.loop.Run(ctx, ec, emitter, req.OnProgress)
	if err != nil {
		o.logger.Error(ctx, "run failed", "run_id", ec.RunID(), "error", err)
		return nil, err
	}

	if err := o.sessions.ReplaceMessages(session.ID, withFinalMessage(ec, result)); err != nil {
		o.logger.Warn(ctx, "persisting session failed", "session_id", session.ID, "error", err)
	}

	if totals := o.ledger.RunTotals(ec.RunID()); totals.Calls > 0 {
		result.Usage.CostUSD = totals.CostUSD
	}
	return result, nil
}

// withFinalMessage returns the run's message log with the final assistant
// answer appended for persistence.
func withFinalMessage(ec *ExecutionContext, result *models.ExecutionResult) []models.AgentMessage {
	msgs := ec.Messages()
	if result.Message != "" {
		msgs = append(msgs, models.AgentMessage{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   result.Message,
			CreatedAt: time.Now(),
		})
	}
	return msgs
}
