package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/reactor/pkg/models"
)

// Telemetry holds per-run counters. All counters are monotonically
// non-decreasing for the lifetime of the run.
type Telemetry struct {
	LLMCalls     int
	ToolCalls    int
	CacheHits    int
	InputTokens  int64
	OutputTokens int64
	Fallbacks    int
	Compactions  int
}

// ExecutionContext owns one run's state. All mutation goes through its
// accessors; readers get copies, never internal slices.
type ExecutionContext struct {
	mu sync.Mutex

	runID     string
	sessionID string
	userID    string
	startedAt time.Time

	messages     []models.AgentMessage
	thoughts     []models.Thought
	observations []models.Observation
	plan         *models.ExecutionPlan

	completed        bool
	completionReason string

	telemetry Telemetry
}

// NewExecutionContext creates the state holder for one run. The prior
// history seeds the message log.
func NewExecutionContext(sessionID, userID string, history []models.AgentMessage) *ExecutionContext {
	return &ExecutionContext{
		runID:     uuid.NewString(),
		sessionID: sessionID,
		userID:    userID,
		startedAt: time.Now(),
		messages:  append([]models.AgentMessage(nil), history...),
	}
}

func (ec *ExecutionContext) RunID() string     { return ec.runID }
func (ec *ExecutionContext) SessionID() string { return ec.sessionID }
func (ec *ExecutionContext) UserID() string    { return ec.userID }

// Elapsed returns wall time since the run started.
func (ec *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ec.startedAt)
}

// AppendMessage adds one message to the run's message log.
func (ec *ExecutionContext) AppendMessage(msg models.AgentMessage) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.messages = append(ec.messages, msg)
}

// ReplaceMessages swaps the message log wholesale, after compaction.
func (ec *ExecutionContext) ReplaceMessages(msgs []models.AgentMessage) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.messages = append([]models.AgentMessage(nil), msgs...)
}

// Messages returns a copy of the message log.
func (ec *ExecutionContext) Messages() []models.AgentMessage {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]models.AgentMessage(nil), ec.messages...)
}

// AddThought appends a thought, assigning id, iteration, and timestamp.
func (ec *ExecutionContext) AddThought(t models.Thought) models.Thought {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	ec.thoughts = append(ec.thoughts, t)
	return t
}

// AddObservation appends an observation. The thought id must reference a
// thought already recorded in this run; unknown references are dropped so
// the invariant holds even against buggy callers.
func (ec *ExecutionContext) AddObservation(o models.Observation) (models.Observation, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	known := false
	for i := range ec.thoughts {
		if ec.thoughts[i].ID == o.ThoughtID {
			known = true
			break
		}
	}
	if !known {
		return models.Observation{}, false
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Timestamp = time.Now()
	ec.observations = append(ec.observations, o)
	return o, true
}

// Thoughts returns a copy of the thought list.
func (ec *ExecutionContext) Thoughts() []models.Thought {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]models.Thought(nil), ec.thoughts...)
}

// Observations returns a copy of the observation list.
func (ec *ExecutionContext) Observations() []models.Observation {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]models.Observation(nil), ec.observations...)
}

// LastThought returns the most recent thought, if any.
func (ec *ExecutionContext) LastThought() (models.Thought, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.thoughts) == 0 {
		return models.Thought{}, false
	}
	return ec.thoughts[len(ec.thoughts)-1], true
}

// SetPlan installs the run's execution plan.
func (ec *ExecutionContext) SetPlan(plan *models.ExecutionPlan) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.plan = plan
}

// Plan returns a copy of the execution plan, or nil.
func (ec *ExecutionContext) Plan() *models.ExecutionPlan {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.plan == nil {
		return nil
	}
	out := &models.ExecutionPlan{Steps: append([]models.PlanStep(nil), ec.plan.Steps...)}
	return out
}

// CompletePlanStep marks the first unfinished plan step as done.
func (ec *ExecutionContext) CompletePlanStep() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.plan == nil {
		return
	}
	for i := range ec.plan.Steps {
		if !ec.plan.Steps[i].Completed {
			ec.plan.Steps[i].Completed = true
			return
		}
	}
}

// MarkCompleted records that the run finished and why. The first reason
// wins; later calls are ignored.
func (ec *ExecutionContext) MarkCompleted(reason string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.completed {
		return
	}
	ec.completed = true
	ec.completionReason = reason
}

// Completed reports the completion flag and reason.
func (ec *ExecutionContext) Completed() (bool, string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.completed, ec.completionReason
}

// Telemetry returns a copy of the run counters.
func (ec *ExecutionContext) Telemetry() Telemetry {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.telemetry
}

// CountLLMCall adds one model call and its token usage to the counters.
func (ec *ExecutionContext) CountLLMCall(usage models.TokenUsage) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.telemetry.LLMCalls++
	ec.telemetry.InputTokens += usage.InputTokens
	ec.telemetry.OutputTokens += usage.OutputTokens
}

// CountToolCall adds one tool execution to the counters.
func (ec *ExecutionContext) CountToolCall(cached bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.telemetry.ToolCalls++
	if cached {
		ec.telemetry.CacheHits++
	}
}

// CountFallback records a provider fallback.
func (ec *ExecutionContext) CountFallback() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.telemetry.Fallbacks++
}

// CountCompaction records a history compaction.
func (ec *ExecutionContext) CountCompaction() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.telemetry.Compactions++
}
