// Package agent drives the ReAct execution loop: Think picks an action with
// an LLM call, Act executes a tool, Reflect judges the outcome, and the loop
// repeats until a stop condition at the loop head fires. The orchestrator in
// this package wires the loop to providers, tools, hooks, and sessions.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/reactor/internal/agenterrors"
	"github.com/haasonsaas/reactor/internal/backoff"
	"github.com/haasonsaas/reactor/internal/compaction"
	"github.com/haasonsaas/reactor/internal/completion"
	"github.com/haasonsaas/reactor/internal/config"
	"github.com/haasonsaas/reactor/internal/events"
	"github.com/haasonsaas/reactor/internal/fallback"
	"github.com/haasonsaas/reactor/internal/hooks"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/internal/recovery"
	"github.com/haasonsaas/reactor/internal/thinking"
	"github.com/haasonsaas/reactor/internal/tools"
	"github.com/haasonsaas/reactor/internal/usage"
	"github.com/haasonsaas/reactor/pkg/models"
)

// Completer is the LLM call surface the loop depends on. The fallback chain
// implements it; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, req *providers.CompletionRequest) (*fallback.Result, error)
}

// Loop runs one request to completion. A Loop is safe to reuse across runs;
// each run carries its own ExecutionContext.
type Loop struct {
	chain     Completer
	executor  *tools.Executor
	registry  *tools.Registry
	hooks     *hooks.Manager
	promise   *completion.Promise
	compactor *compaction.Compactor
	thinking  *thinking.Engine
	planner   *recovery.Planner
	ledger    *usage.Ledger
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	cfg       config.AgentConfig
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithHooks sets the hook manager used for stop-phase hooks. The tool
// executor carries its own reference for pre/post hooks.
func WithHooks(m *hooks.Manager) LoopOption {
	return func(l *Loop) { l.hooks = m }
}

// WithCompactor enables opportunistic history compaction.
func WithCompactor(c *compaction.Compactor) LoopOption {
	return func(l *Loop) { l.compactor = c }
}

// WithPlanner sets the error recovery planner.
func WithPlanner(p *recovery.Planner) LoopOption {
	return func(l *Loop) { l.planner = p }
}

// WithLedger records token usage per model call.
func WithLedger(ledger *usage.Ledger) LoopOption {
	return func(l *Loop) { l.ledger = ledger }
}

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(logger *observability.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithLoopMetrics sets the loop's metrics sink.
func WithLoopMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithLoopTracer sets the tracer for run, iteration, model-call, and
// tool-execution spans.
func WithLoopTracer(t *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = t }
}

// NewLoop creates a Loop. The chain, executor, and registry are required;
// everything else defaults to inert implementations.
func NewLoop(chain Completer, executor *tools.Executor, registry *tools.Registry, cfg config.AgentConfig, opts ...LoopOption) *Loop {
	cfg = cfg.WithDefaults()
	l := &Loop{
		chain:    chain,
		executor: executor,
		registry: registry,
		promise: completion.New(completion.Config{
			MinIterations: cfg.MinIterations,
			Threshold:     cfg.CompletionThreshold,
		}),
		thinking: thinking.NewEngine(thinking.ParseDepth(cfg.ThinkingDepth)),
		planner:  recovery.NewPlanner(),
		logger:   observability.NopLogger(),
		cfg:      cfg,
	}
	l.tracer, _ = observability.NewTracer(observability.TraceConfig{})
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the ReAct loop for one request. The final message, traces,
// and telemetry are returned in the ExecutionResult; hard failures that
// produce no result at all return an error.
func (l *Loop) Run(ctx context.Context, ec *ExecutionContext, emitter *events.Emitter, onProgress models.ProgressFunc) (*models.ExecutionResult, error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "agent.run",
		attribute.String("session_id", ec.SessionID()),
		attribute.String("run_id", ec.RunID()))
	defer span.End()

	emitter.EmitSync(ctx, models.EventRunStarted, map[string]any{
		"session_id": ec.SessionID(),
		"user_id":    ec.UserID(),
	})

	reason, runErr := l.iterate(ctx, ec, emitter, onProgress)
	ec.MarkCompleted(reason)

	iterations := len(ec.Thoughts())
	if l.metrics != nil {
		l.metrics.LoopIterations.Observe(float64(iterations))
		l.metrics.RunCounter.WithLabelValues(reason).Inc()
	}

	if runErr != nil && !agenterrors.IsRecoverable(runErr) && iterations == 0 {
		// Nothing happened at all; surface the failure to the caller.
		l.tracer.RecordError(span, runErr)
		emitter.EmitSync(ctx, models.EventRunError, map[string]any{"error": runErr.Error()})
		progress(onProgress, models.ProgressError, 0, agenterrors.UserMessage(runErr), "")
		return nil, runErr
	}

	finalMessage := l.finalize(ctx, ec, runErr)
	eval := l.promise.Evaluate(ctx, &completion.Snapshot{
		Iterations:   iterations,
		Plan:         ec.Plan(),
		Thoughts:     ec.Thoughts(),
		Observations: ec.Observations(),
		FinalMessage: finalMessage,
	})
	success := eval.Satisfied() && runErr == nil

	telemetry := ec.Telemetry()
	result := &models.ExecutionResult{
		Success:          success,
		Message:          finalMessage,
		Thoughts:         ec.Thoughts(),
		Observations:     ec.Observations(),
		CompletionReason: reason,
		Iterations:       iterations,
		Usage: models.TokenUsage{
			InputTokens:  telemetry.InputTokens,
			OutputTokens: telemetry.OutputTokens,
		},
		Duration: time.Since(start),
	}

	emitter.EmitSync(ctx, models.EventRunFinished, map[string]any{
		"success":    success,
		"reason":     reason,
		"iterations": iterations,
		"confidence": eval.Confidence,
	})
	progress(onProgress, models.ProgressComplete, iterations, finalMessage, "")
	return result, nil
}

// iterate runs the Think/Act/Reflect cycle until a stop condition fires.
// It returns the completion reason and, for abnormal stops, the error.
func (l *Loop) iterate(ctx context.Context, ec *ExecutionContext, emitter *events.Emitter, onProgress models.ProgressFunc) (string, error) {
	for iteration := 0; ; iteration++ {
		// Stop conditions are checked only here, at the loop head.
		if iteration >= l.cfg.MaxSteps {
			return "max_steps", agenterrors.New(agenterrors.CodeExecutionMaxIterations,
				fmt.Sprintf("reached %d iterations", l.cfg.MaxSteps))
		}
		if ec.Elapsed() >= l.cfg.MaxDuration {
			return "max_duration", agenterrors.New(agenterrors.CodeExecutionTimeout,
				fmt.Sprintf("exceeded %s", l.cfg.MaxDuration))
		}
		if err := ctx.Err(); err != nil {
			return "aborted", agenterrors.Wrap(agenterrors.CodeExecutionAborted, err)
		}

		reason, done, err := l.step(ctx, ec, iteration, emitter, onProgress)
		if done {
			return reason, err
		}
	}
}

// step runs one Think/Act/Reflect cycle inside its own span. done reports
// whether the loop should stop with the given reason.
func (l *Loop) step(ctx context.Context, ec *ExecutionContext, iteration int, emitter *events.Emitter, onProgress models.ProgressFunc) (reason string, done bool, err error) {
	ctx, span := l.tracer.Start(ctx, "agent.iteration", attribute.Int("iteration", iteration))
	defer span.End()

	emitter.EmitSync(ctx, models.EventIterStarted, map[string]any{"iteration": iteration})
	l.maybeCompact(ctx, ec, emitter)

	thought, err := l.think(ctx, ec, iteration, onProgress)
	if err != nil {
		l.tracer.RecordError(span, err)
		return "llm_error", true, err
	}
	thought = ec.AddThought(thought)
	progress(onProgress, models.ProgressThought, iteration, thought.Reasoning, thought.ToolName)

	switch thought.NextAction {
	case models.ActionComplete:
		if l.stopVetoed(ctx, ec, thought) {
			return "", false, nil
		}
		return "complete", true, nil
	case models.ActionAskUser:
		return "ask_user", true, nil
	case models.ActionRetry:
		// The model wants another Think pass with current history.
		emitter.EmitSync(ctx, models.EventIterFinished, map[string]any{"iteration": iteration})
		return "", false, nil
	}

	obs := l.act(ctx, ec, thought, iteration, emitter, onProgress)
	reflection := reflect(thought, obs)
	if !reflection.Continue {
		return "reflection_stop", true, nil
	}
	emitter.EmitSync(ctx, models.EventIterFinished, map[string]any{"iteration": iteration})
	return "", false, nil
}

// think performs one LLM call with recovery, records the assistant message
// in history, and parses the resulting thought.
func (l *Loop) think(ctx context.Context, ec *ExecutionContext, iteration int, onProgress models.ProgressFunc) (models.Thought, error) {
	req := l.buildThinkRequest(ec)
	progress(onProgress, models.ProgressThinking, iteration, "", "")

	callCtx, span := l.tracer.Start(ctx, "model.complete")
	res, err := l.completeWithRecovery(callCtx, ec, req)
	l.tracer.RecordError(span, err)
	span.End()
	if err != nil {
		return models.Thought{}, err
	}
	resp := res.Response
	if res.Attempt > 1 {
		ec.CountFallback()
	}
	l.recordUsage(ec, resp)

	// Inline <thinking> blocks come out before parsing so they never reach
	// history or the user.
	inline, visible := thinking.Extract(resp.Content)
	resp.Content = visible

	thought, planSteps := parseThought(resp, iteration)
	thought.Thinking = joinThinking(resp.Thinking, inline)
	if iteration == 0 && len(planSteps) > 0 {
		plan := planFromSteps(planSteps)
		ec.SetPlan(plan)
		progress(onProgress, models.ProgressPlan, iteration, strings.Join(planSteps, "\n"), "")
	}

	// The assistant turn goes into history before any action, so the next
	// Think always sees it.
	assistantMsg := models.AgentMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		CreatedAt: time.Now(),
	}
	if thought.NextAction == models.ActionUseTool {
		input, _ := json.Marshal(thought.ToolInput)
		assistantMsg.ToolCalls = []models.ToolCall{{
			ID:    uuid.NewString(),
			Name:  thought.ToolName,
			Input: input,
		}}
	}
	ec.AppendMessage(assistantMsg)
	return thought, nil
}

// completeWithRecovery wraps the chain call with the recovery planner:
// retries with backoff for transient failures, one compact-then-retry for
// context overflow, and immediate surfacing for everything else.
func (l *Loop) completeWithRecovery(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*fallback.Result, error) {
	compacted := false

	for attempt := 1; ; attempt++ {
		res, err := l.chain.Complete(ctx, req)
		if err == nil {
			return res, nil
		}

		coded := classifyLLMError(err)
		plan := l.planner.PlanFor(coded)

		switch plan.Strategy {
		case recovery.StrategyRetry:
			if attempt > plan.MaxAttempts {
				return nil, coded
			}
			l.logger.Warn(ctx, "model call failed, retrying",
				"attempt", attempt, "code", string(plan.Code), "error", err)
			if serr := backoff.SleepWithBackoff(ctx, plan.Backoff, attempt); serr != nil {
				return nil, agenterrors.Wrap(agenterrors.CodeExecutionAborted, serr)
			}

		case recovery.StrategyCompact:
			if compacted || l.compactor == nil {
				return nil, coded
			}
			compacted = true
			if !l.compact(ctx, ec) {
				return nil, coded
			}
			req.Messages = ec.Messages()

		case recovery.StrategyFallback:
			// The chain already walked its providers; nothing left to try.
			return nil, coded

		default:
			return nil, coded
		}
	}
}

// act executes the thought's tool call and records the observation in both
// the trace and the message history.
func (l *Loop) act(ctx context.Context, ec *ExecutionContext, thought models.Thought, iteration int, emitter *events.Emitter, onProgress models.ProgressFunc) *models.Observation {
	input, _ := json.Marshal(thought.ToolInput)
	call := models.ToolCall{
		ID:    uuid.NewString(),
		Name:  thought.ToolName,
		Input: input,
	}
	progress(onProgress, models.ProgressStepStart, iteration, "", thought.ToolName)

	execCtx, span := l.tracer.Start(ctx, "tool.execute", attribute.String("tool", thought.ToolName))
	result := l.executor.Execute(execCtx, call, tools.CallContext{
		UserID:    ec.UserID(),
		SessionID: ec.SessionID(),
		RunID:     ec.RunID(),
		Iteration: iteration,
		Emitter:   emitter,
	})
	span.End()
	ec.CountToolCall(result.Cached)

	obs, ok := ec.AddObservation(models.Observation{
		ThoughtID: thought.ID,
		ToolName:  thought.ToolName,
		Success:   !result.IsError,
		Content:   result.Content,
		Cached:    result.Cached,
		Duration:  result.Duration,
	})
	if !ok {
		return nil
	}

	// Feedback loop: the observation must be in history before the next
	// Think call, or the model will repeat the same tool call.
	ec.AppendMessage(models.AgentMessage{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{result},
		CreatedAt:   time.Now(),
	})

	if result.IsError {
		progress(onProgress, models.ProgressStepFailed, iteration, result.Content, thought.ToolName)
	} else {
		ec.CompletePlanStep()
		progress(onProgress, models.ProgressStepComplete, iteration, "", thought.ToolName)
	}
	progress(onProgress, models.ProgressObservation, iteration, truncate(result.Content, 2000), thought.ToolName)
	return &obs
}

// stopVetoed runs stop-phase hooks when the model declares completion. A
// blocking hook rejects the completion; its reason is injected into history
// so the next Think sees why.
func (l *Loop) stopVetoed(ctx context.Context, ec *ExecutionContext, thought models.Thought) bool {
	if l.hooks == nil {
		return false
	}
	hc := &hooks.HookContext{
		UserID:    ec.UserID(),
		SessionID: ec.SessionID(),
		Iteration: thought.Iteration,
		Output:    thought.Reasoning,
	}
	res := l.hooks.Run(ctx, hooks.PhaseStop, hc)
	if res.Decision != hooks.DecisionBlock {
		return false
	}
	l.logger.Debug(ctx, "completion vetoed by stop hook", "reason", res.Reason)
	ec.AppendMessage(models.AgentMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   "The task is not finished: " + res.Reason + ". Continue working.",
		CreatedAt: time.Now(),
	})
	return true
}

// maybeCompact folds old history into a summary when over budget.
func (l *Loop) maybeCompact(ctx context.Context, ec *ExecutionContext, emitter *events.Emitter) {
	if l.compactor == nil || !l.cfg.CompactionEnabled() {
		return
	}
	if !l.compactor.NeedsCompaction(ec.Messages()) {
		return
	}
	if l.compact(ctx, ec) {
		emitter.EmitSync(ctx, models.EventCompacted, map[string]any{
			"compactions": ec.Telemetry().Compactions,
		})
	}
}

func (l *Loop) compact(ctx context.Context, ec *ExecutionContext) bool {
	res, err := l.compactor.Compact(ctx, ec.Messages())
	if err != nil || !res.Compacted {
		if err != nil {
			l.logger.Warn(ctx, "compaction failed", "error", err)
		}
		return false
	}
	ec.ReplaceMessages(res.Messages)
	ec.CountCompaction()
	if l.metrics != nil {
		l.metrics.CompactionCounter.Inc()
	}
	return true
}

// finalize produces the user-facing summary. Runs that ended in an error
// get the templated user-safe message; normal exits get a dedicated LLM
// call, falling back to a template when that call fails too.
func (l *Loop) finalize(ctx context.Context, ec *ExecutionContext, runErr error) string {
	if runErr != nil {
		return agenterrors.UserMessage(runErr)
	}

	req := l.buildFinalizeRequest(ec)
	res, err := l.chain.Complete(ctx, req)
	if err != nil || res.Response == nil {
		if err != nil {
			l.logger.Warn(ctx, "finalize call failed, using template", "error", err)
		}
		return fallbackFinalMessage(ec)
	}
	l.recordUsage(ec, res.Response)

	_, visible := thinking.Extract(res.Response.Content)
	visible = strings.TrimSpace(visible)
	if visible == "" {
		return fallbackFinalMessage(ec)
	}
	return visible
}

func (l *Loop) recordUsage(ec *ExecutionContext, resp *providers.LLMResponse) {
	ec.CountLLMCall(resp.Usage)
	if l.ledger != nil {
		l.ledger.Record(ec.RunID(), resp.Usage)
	}
	if l.metrics != nil {
		l.metrics.LLMRequestCounter.WithLabelValues(resp.Usage.Provider, resp.Model, "success").Inc()
		l.metrics.LLMTokensUsed.WithLabelValues(resp.Usage.Provider, resp.Model, "input").Add(float64(resp.Usage.InputTokens))
		l.metrics.LLMTokensUsed.WithLabelValues(resp.Usage.Provider, resp.Model, "output").Add(float64(resp.Usage.OutputTokens))
	}
}

// classifyLLMError converts a provider failure into a coded AgentError.
func classifyLLMError(err error) error {
	if _, ok := agenterrors.Get(err); ok {
		return err
	}
	if errors.Is(err, fallback.ErrNoProviders) {
		return agenterrors.Wrap(agenterrors.CodeConfigInvalid, err)
	}

	perr, ok := providers.GetProviderError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return agenterrors.Wrap(agenterrors.CodeLLMTimeout, err)
		}
		return agenterrors.Wrap(agenterrors.CodeLLMUnavailable, err)
	}

	switch perr.Reason {
	case providers.ReasonTimeout:
		return agenterrors.Wrap(agenterrors.CodeLLMTimeout, err)
	case providers.ReasonRateLimit:
		return agenterrors.Wrap(agenterrors.CodeLLMRateLimited, err)
	case providers.ReasonAuth, providers.ReasonBilling:
		return agenterrors.Wrap(agenterrors.CodeLLMAuthFailed, err)
	case providers.ReasonInvalidRequest:
		if isContextOverflow(perr) {
			return agenterrors.Wrap(agenterrors.CodeLLMContextTooLong, err)
		}
		return agenterrors.Wrap(agenterrors.CodeExecutionFailed, err)
	default:
		return agenterrors.Wrap(agenterrors.CodeLLMUnavailable, err)
	}
}

func isContextOverflow(perr *providers.ProviderError) bool {
	msg := strings.ToLower(perr.Message)
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "too many tokens") ||
		strings.Contains(msg, "prompt is too long")
}

func progress(fn models.ProgressFunc, typ models.ProgressEventType, iteration int, message, toolName string) {
	if fn == nil {
		return
	}
	fn(models.ProgressEvent{
		Type:      typ,
		Iteration: iteration,
		Message:   message,
		ToolName:  toolName,
		Timestamp: time.Now(),
	})
}
