package models

import "time"

// NextAction is the action tag a thought selects for the next loop step.
type NextAction string

const (
	ActionUseTool  NextAction = "use_tool"
	ActionComplete NextAction = "complete"
	ActionAskUser  NextAction = "ask_user"
	ActionRetry    NextAction = "retry"
)

// Thought is one reasoning step produced by the Think phase.
// The thought list for a run is append-only.
type Thought struct {
	// ID uniquely identifies the thought within the run.
	ID string `json:"id"`

	// Iteration is the zero-based loop iteration that produced it.
	Iteration int `json:"iteration"`

	// Reasoning is the free-text reasoning from the model.
	Reasoning string `json:"reasoning"`

	// Thinking is the model's private deliberation, collected from native
	// thinking blocks and inline <thinking> tags. Stripped from all
	// user-visible output.
	Thinking string `json:"thinking,omitempty"`

	// NextAction is the chosen action tag.
	NextAction NextAction `json:"next_action"`

	// ToolName is set when NextAction is use_tool.
	ToolName string `json:"tool_name,omitempty"`

	// ToolInput holds the bound parameters for the chosen tool.
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// Confidence is the model's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the thought was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Observation is the result of acting on a Thought. At most one observation
// exists per thought, and every observation references a prior thought in the
// same run.
type Observation struct {
	// ID uniquely identifies the observation.
	ID string `json:"id"`

	// ThoughtID references the originating thought.
	ThoughtID string `json:"thought_id"`

	// ToolName is the tool that was executed.
	ToolName string `json:"tool_name,omitempty"`

	// Success indicates whether the action succeeded.
	Success bool `json:"success"`

	// Content is the result payload or error text.
	Content string `json:"content"`

	// Cached indicates the result came from the tool cache.
	Cached bool `json:"cached,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration"`

	// Timestamp is when the observation was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// ReflectionStep is the next-step tag a reflection selects.
type ReflectionStep string

const (
	ReflectContinue ReflectionStep = "continue"
	ReflectRetry    ReflectionStep = "retry"
	ReflectComplete ReflectionStep = "complete"
)

// Reflection is the post-observation judgment for an iteration.
// Reflections are not persisted beyond the run.
type Reflection struct {
	// Satisfied indicates the observation met the thought's intent.
	Satisfied bool `json:"satisfied"`

	// Continue indicates the loop should keep iterating.
	Continue bool `json:"continue"`

	// NextStep is the suggested next step.
	NextStep ReflectionStep `json:"next_step"`
}

// PlanStep is one step of an optional execution plan.
type PlanStep struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// ExecutionPlan is an optional up-front plan for a run. The completion
// evaluator uses the step completion ratio as one confidence input.
type ExecutionPlan struct {
	Steps []PlanStep `json:"steps"`
}

// CompletionRatio returns the fraction of completed steps, or 0 for an
// empty plan.
func (p *ExecutionPlan) CompletionRatio() float64 {
	if p == nil || len(p.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range p.Steps {
		if s.Completed {
			done++
		}
	}
	return float64(done) / float64(len(p.Steps))
}
