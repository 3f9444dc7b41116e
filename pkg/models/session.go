package models

import "time"

// SessionData holds per-session ephemeral state: the message buffer and
// arbitrary metadata. Sessions are created on first message, pruned at the
// message cap, and deleted by the manager's sweep once idle past maxAge.
type SessionData struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Messages is the ordered message buffer.
	Messages []AgentMessage `json:"messages"`

	// Metadata holds arbitrary session attributes.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is updated on every message append; the sweeper compares
	// it against the inactivity window.
	LastActivity time.Time `json:"last_activity"`
}

// ExecutionResult is returned synchronously to the caller for persistence.
type ExecutionResult struct {
	// Success indicates the run genuinely completed its task.
	Success bool `json:"success"`

	// Message is the user-facing final answer.
	Message string `json:"message"`

	// Thoughts is the ordered reasoning trace.
	Thoughts []Thought `json:"thoughts"`

	// Observations is the ordered action outcome trace.
	Observations []Observation `json:"observations"`

	// CompletionReason explains why the loop stopped.
	CompletionReason string `json:"completion_reason"`

	// Iterations is the number of loop iterations executed.
	Iterations int `json:"iterations"`

	// Usage is aggregate token usage for the run.
	Usage TokenUsage `json:"usage"`

	// Duration is total wall time for the run.
	Duration time.Duration `json:"duration"`
}
