package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/reactor/internal/agenterrors"
	"github.com/haasonsaas/reactor/internal/backoff"
	"github.com/haasonsaas/reactor/internal/compaction"
	"github.com/haasonsaas/reactor/internal/config"
	"github.com/haasonsaas/reactor/internal/events"
	"github.com/haasonsaas/reactor/internal/fallback"
	"github.com/haasonsaas/reactor/internal/hooks"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/internal/recovery"
	"github.com/haasonsaas/reactor/internal/tools"
	"github.com/haasonsaas/reactor/pkg/models"
)

type scriptStep struct {
	resp *providers.LLMResponse
	err  error
}

// scriptedCompleter plays back canned responses in order. An exhausted
// script returns an error so runaway loops fail fast.
type scriptedCompleter struct {
	mu      sync.Mutex
	steps   []scriptStep
	calls   int
	lastReq *providers.CompletionRequest
}

func (s *scriptedCompleter) Complete(ctx context.Context, req *providers.CompletionRequest) (*fallback.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &fallback.Result{Response: step.resp, Provider: "scripted", Attempt: 1}, nil
}

func (s *scriptedCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func envelope(action, reasoning, tool string, input map[string]any) *providers.LLMResponse {
	payload := map[string]any{"reasoning": reasoning, "action": action}
	if tool != "" {
		payload["tool"] = tool
		payload["tool_input"] = input
	}
	b, _ := json.Marshal(payload)
	return &providers.LLMResponse{
		Content: string(b),
		Usage:   models.TokenUsage{InputTokens: 10, OutputTokens: 5, Provider: "scripted", Model: "test-model"},
		Model:   "test-model",
	}
}

func textResponse(content string) *providers.LLMResponse {
	return &providers.LLMResponse{
		Content: content,
		Usage:   models.TokenUsage{InputTokens: 10, OutputTokens: 5, Provider: "scripted", Model: "test-model"},
		Model:   "test-model",
	}
}

func statusTool(t *testing.T, failures int) tools.Tool {
	t.Helper()
	calls := 0
	return &tools.FuncTool{
		ToolName:        "fetch_status",
		ToolDescription: "Reports service status.",
		ToolSchema:      json.RawMessage(`{"type":"object"}`),
		Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
			calls++
			if calls <= failures {
				return "", fmt.Errorf("connection refused")
			}
			return "status: healthy", nil
		},
	}
}

func fastPlanner() *recovery.Planner {
	return recovery.NewPlanner(recovery.WithBackoffPolicy(backoff.BackoffPolicy{
		InitialMs: 1, MaxMs: 2, Factor: 2,
	}))
}

func newTestLoop(t *testing.T, completer Completer, cfg config.AgentConfig, toolList []tools.Tool, opts ...LoopOption) *Loop {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range toolList {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("registering %s: %v", tool.Name(), err)
		}
	}
	executor := tools.NewExecutor(registry, tools.ExecutorConfig{})
	opts = append([]LoopOption{WithPlanner(fastPlanner())}, opts...)
	return NewLoop(completer, executor, registry, cfg, opts...)
}

func runLoop(t *testing.T, l *Loop, ec *ExecutionContext) (*models.ExecutionResult, error) {
	t.Helper()
	bus := events.NewBus(observability.NopLogger())
	return l.Run(context.Background(), ec, events.NewEmitter(bus, ec.RunID()), nil)
}

func TestRunCompletesAfterToolUse(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("use_tool", "check the service first", "fetch_status", map[string]any{"service": "api"})},
		{resp: envelope("complete", "The task is complete: the service is healthy.", "", nil)},
		{resp: textResponse("The service is healthy.")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, []tools.Tool{statusTool(t, 0)})

	ec := NewExecutionContext("sess", "user", []models.AgentMessage{
		{Role: models.RoleUser, Content: "is the api up?"},
	})
	result, err := runLoop(t, l, ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, reason=%s message=%q", result.CompletionReason, result.Message)
	}
	if result.CompletionReason != "complete" {
		t.Errorf("reason = %q", result.CompletionReason)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d", result.Iterations)
	}
	if len(result.Thoughts) != 2 || len(result.Observations) != 1 {
		t.Fatalf("got %d thoughts, %d observations", len(result.Thoughts), len(result.Observations))
	}
	obs := result.Observations[0]
	if !obs.Success || obs.ToolName != "fetch_status" {
		t.Errorf("observation: %+v", obs)
	}
	if obs.ThoughtID != result.Thoughts[0].ID {
		t.Error("observation does not reference the thought that caused it")
	}
	if result.Message != "The service is healthy." {
		t.Errorf("message = %q", result.Message)
	}
	// 2 think calls + 1 finalize call.
	if result.Usage.InputTokens != 30 || result.Usage.OutputTokens != 15 {
		t.Errorf("usage = %+v", result.Usage)
	}

	// The tool result must be in history so a next Think would see it.
	var sawToolResult bool
	for _, m := range ec.Messages() {
		if m.Role == models.RoleTool && len(m.ToolResults) > 0 {
			sawToolResult = true
			if m.ToolResults[0].Content != "status: healthy" {
				t.Errorf("tool result content = %q", m.ToolResults[0].Content)
			}
		}
	}
	if !sawToolResult {
		t.Error("tool result never entered the message history")
	}
}

func TestRunToolFailureThenRetrySucceeds(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("use_tool", "check status", "fetch_status", map[string]any{"service": "api"})},
		{resp: envelope("use_tool", "the call failed, trying again", "fetch_status", map[string]any{"service": "api"})},
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: textResponse("Completed successfully: the service is healthy.")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, []tools.Tool{statusTool(t, 1)})

	result, err := runLoop(t, l, NewExecutionContext("s", "u", nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Errorf("retried run should succeed, reason=%s", result.CompletionReason)
	}
	if len(result.Observations) != 2 {
		t.Fatalf("got %d observations", len(result.Observations))
	}
	if result.Observations[0].Success || !result.Observations[1].Success {
		t.Errorf("expected fail then success: %+v", result.Observations)
	}
	if len(result.Observations) > len(result.Thoughts) {
		t.Errorf("%d observations for %d thoughts", len(result.Observations), len(result.Thoughts))
	}
}

func TestRunStopsAtMaxSteps(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("use_tool", "step one", "fetch_status", nil)},
		{resp: envelope("use_tool", "step two", "fetch_status", nil)},
	}}
	cfg := config.Default().Agent
	cfg.MaxSteps = 2
	l := newTestLoop(t, completer, cfg, []tools.Tool{statusTool(t, 0)})

	result, err := runLoop(t, l, NewExecutionContext("s", "u", nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Error("a truncated run must not report success")
	}
	if result.CompletionReason != "max_steps" {
		t.Errorf("reason = %q", result.CompletionReason)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d", result.Iterations)
	}
	// The user sees a templated message, never the raw error.
	if !strings.Contains(result.Message, "step limit") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRunRetriesTransientLLMFailures(t *testing.T) {
	timeout := &providers.ProviderError{Reason: providers.ReasonTimeout, Provider: "scripted", Message: "request timed out"}
	completer := &scriptedCompleter{steps: []scriptStep{
		{err: timeout},
		{err: timeout},
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: textResponse("Done. Task completed successfully.")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	result, err := runLoop(t, l, NewExecutionContext("s", "u", nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CompletionReason != "complete" {
		t.Errorf("reason = %q", result.CompletionReason)
	}
	if got := completer.callCount(); got != 4 {
		t.Errorf("expected 4 model calls (2 failures, think, finalize), got %d", got)
	}
}

func TestRunSurfacesAuthFailure(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{err: &providers.ProviderError{Reason: providers.ReasonAuth, Provider: "scripted", Message: "invalid api key sk-test"}},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	var progressTypes []models.ProgressEventType
	bus := events.NewBus(observability.NopLogger())
	ec := NewExecutionContext("s", "u", nil)
	result, err := l.Run(context.Background(), ec, events.NewEmitter(bus, ec.RunID()), func(ev models.ProgressEvent) {
		progressTypes = append(progressTypes, ev.Type)
	})
	if err == nil {
		t.Fatalf("expected an error, got result %+v", result)
	}
	if agenterrors.CodeOf(err) != agenterrors.CodeLLMAuthFailed {
		t.Errorf("code = %s", agenterrors.CodeOf(err))
	}
	var sawError bool
	for _, typ := range progressTypes {
		if typ == models.ProgressError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("caller never saw a progress error event")
	}
}

func TestRunAskUserStops(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("ask_user", "which environment should I check?", "", nil)},
		{resp: textResponse("Which environment should I check?")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	result, err := runLoop(t, l, NewExecutionContext("s", "u", nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CompletionReason != "ask_user" {
		t.Errorf("reason = %q", result.CompletionReason)
	}
	if result.Success {
		t.Error("a run waiting on the user is not a completed run")
	}
}

func TestRunStopHookVetoContinuesLoop(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: envelope("complete", "Tests now pass, the task is complete.", "", nil)},
		{resp: textResponse("All done, completed successfully.")},
	}}

	hookMgr := hooks.NewManager(hooks.WithLogger(observability.NopLogger()))
	vetoes := 0
	hookMgr.Register(hooks.PhaseStop, "require-tests", func(ctx context.Context, hc *hooks.HookContext) (hooks.Result, error) {
		if vetoes == 0 {
			vetoes++
			return hooks.Block("unit tests were not run"), nil
		}
		return hooks.Continue(), nil
	})

	l := newTestLoop(t, completer, config.Default().Agent, nil, WithHooks(hookMgr))
	ec := NewExecutionContext("s", "u", nil)
	result, err := runLoop(t, l, ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CompletionReason != "complete" {
		t.Errorf("reason = %q", result.CompletionReason)
	}
	if len(result.Thoughts) != 2 {
		t.Fatalf("veto should force another iteration, got %d thoughts", len(result.Thoughts))
	}

	var injected bool
	for _, m := range ec.Messages() {
		if m.Role == models.RoleUser && strings.Contains(m.Content, "unit tests were not run") {
			injected = true
		}
	}
	if !injected {
		t.Error("veto reason never entered the message history")
	}
}

func TestRunCompactsOversizedHistory(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: textResponse("Task completed successfully.")},
	}}
	compactor := compaction.New(compaction.Config{
		MaxTokensBeforeCompaction: 50,
		PreserveRecentMessages:    2,
	})
	l := newTestLoop(t, completer, config.Default().Agent, nil, WithCompactor(compactor))

	history := make([]models.AgentMessage, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, models.AgentMessage{
			ID:      fmt.Sprintf("m%d", i),
			Role:    models.RoleUser,
			Content: strings.Repeat("x", 200),
		})
	}
	ec := NewExecutionContext("s", "u", history)
	if _, err := runLoop(t, l, ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ec.Telemetry().Compactions; got < 1 {
		t.Errorf("expected at least one compaction, got %d", got)
	}
	if got := len(ec.Messages()); got >= 20 {
		t.Errorf("history did not shrink: %d messages", got)
	}
}

func TestRunCancelledContext(t *testing.T) {
	completer := &scriptedCompleter{}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus := events.NewBus(observability.NopLogger())
	ec := NewExecutionContext("s", "u", nil)
	_, err := l.Run(ctx, ec, events.NewEmitter(bus, ec.RunID()), nil)
	if err == nil {
		t.Fatal("expected an error from a cancelled run")
	}
	if agenterrors.CodeOf(err) != agenterrors.CodeExecutionAborted {
		t.Errorf("code = %s", agenterrors.CodeOf(err))
	}
	if completer.callCount() != 0 {
		t.Errorf("no model calls expected, got %d", completer.callCount())
	}
}

func TestRunStripsInlineThinkingFromOutput(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: textResponse("<thinking>weighing rollback options privately</thinking>All done.")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	ec := NewExecutionContext("sess", "user", []models.AgentMessage{
		{Role: models.RoleUser, Content: "wrap up the release"},
	})
	result, err := runLoop(t, l, ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Message != "All done." {
		t.Errorf("message = %q", result.Message)
	}
	if strings.Contains(result.Message, "privately") {
		t.Errorf("thinking leaked into the final message: %q", result.Message)
	}
	if len(result.Thoughts) != 1 {
		t.Fatalf("got %d thoughts", len(result.Thoughts))
	}
	th := result.Thoughts[0]
	if th.Reasoning != "All done." {
		t.Errorf("reasoning = %q", th.Reasoning)
	}
	if !strings.Contains(th.Thinking, "weighing rollback options privately") {
		t.Errorf("thinking not preserved on the thought: %q", th.Thinking)
	}
	for _, m := range ec.Messages() {
		if strings.Contains(m.Content, "<thinking>") {
			t.Errorf("thinking entered message history: %q", m.Content)
		}
	}
}

func TestFinalizeStripsInlineThinking(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: textResponse("<thinking>drafting the summary</thinking>Deployment finished cleanly.")},
	}}
	l := newTestLoop(t, completer, config.Default().Agent, nil)

	ec := NewExecutionContext("sess", "user", []models.AgentMessage{
		{Role: models.RoleUser, Content: "roll out the release"},
	})
	result, err := runLoop(t, l, ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Message != "Deployment finished cleanly." {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRunWithZeroConfigAppliesDefaults(t *testing.T) {
	completer := &scriptedCompleter{steps: []scriptStep{
		{resp: envelope("complete", "The task is complete.", "", nil)},
		{resp: textResponse("Nothing needed doing.")},
	}}
	l := newTestLoop(t, completer, config.AgentConfig{}, nil)

	ec := NewExecutionContext("sess", "user", []models.AgentMessage{
		{Role: models.RoleUser, Content: "hello"},
	})
	result, err := runLoop(t, l, ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CompletionReason != "complete" {
		t.Errorf("zero limits must not abort the run, reason = %q", result.CompletionReason)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d", result.Iterations)
	}
}
