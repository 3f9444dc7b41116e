package hooks

import (
	"context"
	"sync"

	"github.com/haasonsaas/reactor/internal/observability"
)

// Severity grades a rule failure. Error severity blocks the tool call;
// lower severities are logged and let the call proceed.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RuleResult is the outcome of one rule evaluation.
type RuleResult struct {
	RuleName string   `json:"rule_name"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// Pass reports a passing evaluation.
func Pass() RuleResult {
	return RuleResult{Passed: true}
}

// Fail reports a failing evaluation at the given severity.
func Fail(severity Severity, message string) RuleResult {
	return RuleResult{Passed: false, Severity: severity, Message: message}
}

// RuleFunc evaluates a tool call.
type RuleFunc func(ctx context.Context, hc *HookContext) RuleResult

type rule struct {
	name     string
	patterns []string
	fn       RuleFunc
}

func (r *rule) matches(toolName string) bool {
	if len(r.patterns) == 0 {
		return true
	}
	for _, p := range r.patterns {
		if ok := matchPattern(p, toolName); ok {
			return true
		}
	}
	return false
}

// Engine evaluates rules against tool calls. Safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	rules  []*rule
	logger *observability.Logger
}

// NewEngine creates an empty rule engine.
func NewEngine(logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{logger: logger}
}

// AddRule registers a rule. Patterns restrict it to matching tool names;
// no patterns means all tools.
func (e *Engine) AddRule(name string, fn RuleFunc, patterns ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &rule{name: name, patterns: patterns, fn: fn})
}

// Evaluate runs all matching rules. It returns every failure and whether any
// failure carried error severity.
func (e *Engine) Evaluate(ctx context.Context, hc *HookContext) (blocked bool, failures []RuleResult) {
	e.mu.RLock()
	rules := make([]*rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.matches(hc.ToolName) {
			continue
		}
		result := r.fn(ctx, hc)
		result.RuleName = r.name
		if result.Passed {
			continue
		}

		failures = append(failures, result)
		switch result.Severity {
		case SeverityError:
			blocked = true
			e.logger.Warn(ctx, "rule blocked tool call",
				"rule", r.name, "tool", hc.ToolName, "message", result.Message)
		default:
			e.logger.Info(ctx, "rule failed",
				"rule", r.name, "tool", hc.ToolName,
				"severity", string(result.Severity), "message", result.Message)
		}
	}
	return blocked, failures
}

// AsPreHook adapts the engine to a pre-execution hook that blocks on any
// error-severity failure.
func (e *Engine) AsPreHook() HookFunc {
	return func(ctx context.Context, hc *HookContext) (Result, error) {
		blocked, failures := e.Evaluate(ctx, hc)
		if blocked {
			reason := "rule violation"
			for _, f := range failures {
				if f.Severity == SeverityError {
					reason = f.RuleName + ": " + f.Message
					break
				}
			}
			return Block(reason), nil
		}
		return Continue(), nil
	}
}

func matchPattern(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	// Trailing-star prefix match covers the common "fs_*" style patterns.
	if n := len(pattern); n > 1 && pattern[n-1] == '*' {
		return len(name) >= n-1 && name[:n-1] == pattern[:n-1]
	}
	return false
}
