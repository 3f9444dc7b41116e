// Package hooks provides pre/post execution hooks and a rule engine for tool
// calls. Hooks observe, veto, or rewrite tool executions; rules are declarative
// checks evaluated before a tool runs.
package hooks

import (
	"context"
	"encoding/json"
	"time"
)

// Phase identifies when a hook runs relative to tool execution.
type Phase string

const (
	// PhasePre runs before tool execution. Pre hooks may block the call or
	// modify its input.
	PhasePre Phase = "pre"

	// PhasePost runs after tool execution. Post hooks may modify the
	// output before it is recorded.
	PhasePost Phase = "post"

	// PhaseStop runs when the agent believes it is done. Stop hooks may
	// veto completion to force another iteration.
	PhaseStop Phase = "stop"
)

// Priority determines hook order within a phase. Lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Decision is the outcome kind of a hook invocation.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionBlock    Decision = "block"
	DecisionModify   Decision = "modify"
)

// Result is the tagged outcome of a hook. Use the constructors; the zero
// value is treated as continue.
type Result struct {
	Decision Decision `json:"decision"`

	// Reason explains a block.
	Reason string `json:"reason,omitempty"`

	// Input replaces the tool input when a pre hook modifies it.
	Input json.RawMessage `json:"input,omitempty"`

	// Output replaces the tool output when a post hook modifies it.
	Output string `json:"output,omitempty"`
}

// Continue lets execution proceed unchanged.
func Continue() Result {
	return Result{Decision: DecisionContinue}
}

// Block vetoes the execution with a reason.
func Block(reason string) Result {
	return Result{Decision: DecisionBlock, Reason: reason}
}

// ModifyInput replaces the tool input for the remaining hooks and the
// execution itself.
func ModifyInput(input json.RawMessage) Result {
	return Result{Decision: DecisionModify, Input: input}
}

// ModifyOutput replaces the tool output before it is recorded.
func ModifyOutput(output string) Result {
	return Result{Decision: DecisionModify, Output: output}
}

// HookContext carries the tool call through the hook chain. Pre hooks see
// Input; post hooks additionally see Output, IsError, and Duration.
type HookContext struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	UserID     string          `json:"user_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Iteration  int             `json:"iteration,omitempty"`
	Input      json.RawMessage `json:"input"`

	Output   string        `json:"output,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Modified is set when any hook rewrote Input or Output.
	Modified bool `json:"modified,omitempty"`

	// Metadata carries hook-specific data along the chain.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HookFunc is a registered hook. A returned error is logged and treated as
// continue so one broken hook cannot wedge the pipeline.
type HookFunc func(ctx context.Context, hc *HookContext) (Result, error)

// Predicate gates a hook on arbitrary call state, in addition to the
// tool-name pattern.
type Predicate func(hc *HookContext) bool
