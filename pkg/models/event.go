package models

import "time"

// AgentEventType identifies the category of a structured agent event.
type AgentEventType string

const (
	// Run lifecycle
	EventRunStarted  AgentEventType = "run.started"
	EventRunFinished AgentEventType = "run.finished"
	EventRunError    AgentEventType = "run.error"

	// Iteration lifecycle
	EventIterStarted  AgentEventType = "iter.started"
	EventIterFinished AgentEventType = "iter.finished"

	// Model calls
	EventModelCompleted AgentEventType = "model.completed"
	EventModelFallback  AgentEventType = "model.fallback"

	// Tool execution
	EventToolCompleted AgentEventType = "tool.completed"
	EventToolFailed    AgentEventType = "tool.failed"
	EventToolCacheHit  AgentEventType = "tool.cache_hit"
	EventToolBlocked   AgentEventType = "tool.blocked"

	// Resource accounting
	EventBudgetAlert AgentEventType = "budget.alert"

	// History management
	EventCompacted AgentEventType = "history.compacted"

	// Session lifecycle
	EventSessionCreated AgentEventType = "session.created"
	EventSessionExpired AgentEventType = "session.expired"
)

// AgentEvent is one entry in the structured event stream for logging and
// metrics sinks. Sequence numbers are monotonic within a run.
type AgentEvent struct {
	// Type is the event category.
	Type AgentEventType `json:"type"`

	// Sequence is a monotonic counter within the run.
	Sequence uint64 `json:"sequence"`

	// RunID identifies the run that produced the event.
	RunID string `json:"run_id,omitempty"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Payload holds event-specific data.
	Payload map[string]any `json:"payload,omitempty"`
}

// ProgressEventType identifies a live progress update for UI consumers.
type ProgressEventType string

const (
	ProgressPlan         ProgressEventType = "plan"
	ProgressStepStart    ProgressEventType = "step_start"
	ProgressStepComplete ProgressEventType = "step_complete"
	ProgressStepFailed   ProgressEventType = "step_failed"
	ProgressThinking     ProgressEventType = "thinking"
	ProgressThought      ProgressEventType = "thought"
	ProgressObservation  ProgressEventType = "observation"
	ProgressComplete     ProgressEventType = "complete"
	ProgressError        ProgressEventType = "error"
)

// ProgressEvent is delivered through the caller's progress callback for live
// UI updates while a run executes.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	Iteration int               `json:"iteration"`
	Message   string            `json:"message,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ProgressFunc receives progress events. Implementations must be fast and
// must not block the loop.
type ProgressFunc func(event ProgressEvent)
