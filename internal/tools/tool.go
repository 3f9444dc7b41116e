// Package tools provides the tool registry and the guarded execution
// pipeline: rate limiting, caching, hooks, schema validation, and telemetry
// around every tool call.
package tools

import (
	"context"
	"encoding/json"
	"regexp"
)

// Tool is a capability the agent can invoke.
type Tool interface {
	// Name is the unique tool identifier.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema is the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Returned errors become failed results, they
	// do not abort the run.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// CacheabilityReporter lets a tool declare caching behavior explicitly,
// overriding the name heuristic.
type CacheabilityReporter interface {
	Cacheable() bool
}

// writeNamePattern classifies tools with mutating names. Tools matching it
// are never cached unless they explicitly report otherwise.
var writeNamePattern = regexp.MustCompile(`(?i)(^|_)(create|update|delete|write|remove|insert|set|put|post|send|exec|execute)($|_)`)

// IsCacheable reports whether a tool's results may be cached. Explicit
// metadata wins; otherwise write-classified names are excluded.
func IsCacheable(t Tool) bool {
	if r, ok := t.(CacheabilityReporter); ok {
		return r.Cacheable()
	}
	return !writeNamePattern.MatchString(t.Name())
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, input json.RawMessage) (string, error)

	// CacheableOverride pins cacheability when non-nil.
	CacheableOverride *bool
}

func (f *FuncTool) Name() string         { return f.ToolName }
func (f *FuncTool) Description() string  { return f.ToolDescription }
func (f *FuncTool) Schema() json.RawMessage { return f.ToolSchema }

func (f *FuncTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return f.Fn(ctx, input)
}

func (f *FuncTool) Cacheable() bool {
	if f.CacheableOverride != nil {
		return *f.CacheableOverride
	}
	return !writeNamePattern.MatchString(f.ToolName)
}
