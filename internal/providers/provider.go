// Package providers implements LLM provider integrations for the agent core.
//
// Each provider adapts one vendor SDK (Anthropic, OpenAI) to a common
// request/response shape, handles retries with exponential backoff for
// transient failures, and classifies errors so the fallback chain can
// decide whether to retry, fail over, or abort.
package providers

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/reactor/pkg/models"
)

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionRequest is the provider-agnostic request shape.
type CompletionRequest struct {
	// System is the system prompt, sent separately from the message list.
	System string

	// Messages is the conversation so far, including tool calls and results.
	Messages []models.AgentMessage

	// Tools are the tool definitions offered to the model.
	Tools []ToolDefinition

	// MaxTokens caps the response length. Providers apply their own
	// default when zero.
	MaxTokens int

	// Temperature controls sampling. Negative means provider default.
	Temperature float64

	// EnableThinking requests extended reasoning from providers that
	// support it.
	EnableThinking bool

	// ThinkingBudgetTokens caps thinking output when EnableThinking is set.
	ThinkingBudgetTokens int
}

// LLMResponse is the normalized provider response.
type LLMResponse struct {
	// Content is the assistant text, concatenated across content blocks.
	Content string

	// Thinking is extended reasoning output, when the provider emits it.
	Thinking string

	// ToolCalls are tool invocations the model requested.
	ToolCalls []models.ToolCall

	// Usage reports token consumption for this call.
	Usage models.TokenUsage

	// StopReason is the provider's stop reason, normalized to lowercase.
	StopReason string

	// Model is the model that produced the response.
	Model string
}

// LLMProvider is implemented by each vendor integration.
type LLMProvider interface {
	// Name returns a stable lowercase identifier ("anthropic", "openai").
	Name() string

	// Model returns the configured default model.
	Model() string

	// Complete sends a completion request and blocks until the full
	// response is available or an error occurs.
	Complete(ctx context.Context, req *CompletionRequest) (*LLMResponse, error)
}
