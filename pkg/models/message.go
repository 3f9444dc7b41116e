// Package models defines the shared domain types for the reactor agent core:
// messages, reasoning steps, tool calls, sessions, and the event stream.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AgentMessage is a single entry in the conversation history of a run.
//
// Messages are append-only: the loop serializes every observation back into
// the history before the next model call, and the compactor may replace a
// span of older messages with a single summary message.
type AgentMessage struct {
	// ID is a unique message identifier.
	ID string `json:"id"`

	// Role indicates who authored the message.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Metadata holds additional message attributes. The compactor uses it to
	// record how many messages a summary replaced.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the message was produced.
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is a concrete tool invocation requested by the model.
type ToolCall struct {
	// ID uniquely identifies this call for correlating the result.
	ID string `json:"id"`

	// Name is the tool name from the registry.
	Name string `json:"name"`

	// Input is the JSON-encoded bound parameters.
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	// ToolCallID references the originating call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the tool output, or the error message when IsError is set.
	Content string `json:"content"`

	// IsError indicates the execution failed.
	IsError bool `json:"is_error,omitempty"`

	// Cached indicates the result was served from the tool cache without
	// invoking the tool body.
	Cached bool `json:"cached,omitempty"`

	// Duration is how long the execution took. Zero for cache hits.
	Duration time.Duration `json:"duration,omitempty"`
}

// TokenUsage records token consumption for a single model call.
// Entries are appended to the usage ledger and never mutated.
type TokenUsage struct {
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Total returns the combined token count.
func (u *TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
