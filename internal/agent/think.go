package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/pkg/models"
)

const reactSystemPrompt = `You are an autonomous agent that solves tasks step by step.

Each turn, reason about the current state and choose exactly one action.
Respond with a single JSON object and nothing else:

{
  "reasoning": "why you chose this action",
  "action": "use_tool" | "complete" | "ask_user" | "retry",
  "tool": "tool name, required when action is use_tool",
  "tool_input": { "bound": "parameters" },
  "confidence": 0.0,
  "plan": ["optional ordered steps, first turn only"]
}

Rules:
- Use "use_tool" to gather information or act. You may also invoke a tool
  directly through the tool-call interface instead of the JSON envelope.
- Use "complete" only when the task is genuinely finished.
- Use "ask_user" when you are missing information only the user has.
- Use "retry" to attempt the previous action again after a failure.
- Tool results arrive as messages; read them before deciding the next action.`

const finalizeSystemPrompt = `Summarize the outcome of the completed task for the user.
Be direct about what was done, what was found, and anything that failed.
Do not mention your internal reasoning process or tools by name unless the
user needs them to understand the result.`

// thoughtPayload is the JSON envelope the model answers with.
type thoughtPayload struct {
	Reasoning  string         `json:"reasoning"`
	Action     string         `json:"action"`
	Tool       string         `json:"tool"`
	ToolInput  map[string]any `json:"tool_input"`
	Confidence float64        `json:"confidence"`
	Plan       []string       `json:"plan"`
}

// buildThinkRequest assembles the provider request for one Think call.
func (l *Loop) buildThinkRequest(ec *ExecutionContext) *providers.CompletionRequest {
	req := &providers.CompletionRequest{
		System:    l.thinking.AugmentSystemPrompt(reactSystemPrompt),
		Messages:  ec.Messages(),
		Tools:     l.registry.Definitions(),
		MaxTokens: l.cfg.MaxTokens,
	}
	l.thinking.ApplyToRequest(req)
	return req
}

// buildFinalizeRequest assembles the request for the user-facing summary.
func (l *Loop) buildFinalizeRequest(ec *ExecutionContext) *providers.CompletionRequest {
	return &providers.CompletionRequest{
		System:    finalizeSystemPrompt,
		Messages:  ec.Messages(),
		MaxTokens: l.cfg.MaxTokens,
	}
}

// parseThought converts a model response into a Thought. Tool-call blocks
// take precedence over the JSON envelope; unparseable responses become a
// complete action carrying the raw text.
func parseThought(resp *providers.LLMResponse, iteration int) (models.Thought, []string) {
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		var input map[string]any
		if len(tc.Input) > 0 {
			_ = json.Unmarshal(tc.Input, &input)
		}
		return models.Thought{
			Iteration:  iteration,
			Reasoning:  strings.TrimSpace(resp.Content),
			NextAction: models.ActionUseTool,
			ToolName:   tc.Name,
			ToolInput:  input,
			Confidence: 0.9,
		}, nil
	}

	payload, ok := extractPayload(resp.Content)
	if !ok {
		return models.Thought{
			Iteration:  iteration,
			Reasoning:  strings.TrimSpace(resp.Content),
			NextAction: models.ActionComplete,
			Confidence: 0.5,
		}, nil
	}

	t := models.Thought{
		Iteration:  iteration,
		Reasoning:  payload.Reasoning,
		ToolName:   payload.Tool,
		ToolInput:  payload.ToolInput,
		Confidence: clampConfidence(payload.Confidence),
	}
	switch payload.Action {
	case "use_tool":
		t.NextAction = models.ActionUseTool
	case "ask_user":
		t.NextAction = models.ActionAskUser
	case "retry":
		t.NextAction = models.ActionRetry
	default:
		t.NextAction = models.ActionComplete
	}
	if t.NextAction == models.ActionUseTool && t.ToolName == "" {
		t.NextAction = models.ActionComplete
	}
	return t, payload.Plan
}

// extractPayload finds and parses the JSON envelope in model output,
// tolerating code fences and surrounding prose.
func extractPayload(content string) (*thoughtPayload, bool) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var payload thoughtPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return nil, false
	}
	if payload.Action == "" && payload.Reasoning == "" {
		return nil, false
	}
	return &payload, true
}

// joinThinking merges provider-native thinking with inline extracted blocks.
func joinThinking(native, inline string) string {
	switch {
	case native == "":
		return inline
	case inline == "":
		return native
	default:
		return native + "\n\n" + inline
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// planFromSteps converts the model's plan strings into an ExecutionPlan.
func planFromSteps(steps []string) *models.ExecutionPlan {
	if len(steps) == 0 {
		return nil
	}
	plan := &models.ExecutionPlan{Steps: make([]models.PlanStep, len(steps))}
	for i, s := range steps {
		plan.Steps[i] = models.PlanStep{Description: s}
	}
	return plan
}

// reflect judges one iteration's outcome. The loop stops when Continue is
// false.
func reflect(thought models.Thought, obs *models.Observation) models.Reflection {
	if obs == nil {
		// Nothing was acted on; completion decisions come from the thought.
		return models.Reflection{
			Satisfied: true,
			Continue:  thought.NextAction == models.ActionRetry,
			NextStep:  models.ReflectComplete,
		}
	}
	if obs.Success {
		return models.Reflection{Satisfied: true, Continue: true, NextStep: models.ReflectContinue}
	}
	return models.Reflection{Satisfied: false, Continue: true, NextStep: models.ReflectRetry}
}

// fallbackFinalMessage builds the templated summary used when the finalize
// call fails or is unavailable.
func fallbackFinalMessage(ec *ExecutionContext) string {
	observations := ec.Observations()
	succeeded := 0
	for _, o := range observations {
		if o.Success {
			succeeded++
		}
	}
	if t, ok := ec.LastThought(); ok && t.Reasoning != "" && len(observations) == 0 {
		return t.Reasoning
	}
	if len(observations) == 0 {
		return "I finished processing your request."
	}
	if succeeded == len(observations) {
		return fmt.Sprintf("I completed the task using %d action(s). The last result: %s",
			len(observations), truncate(observations[len(observations)-1].Content, 500))
	}
	return fmt.Sprintf("I attempted the task with %d action(s); %d succeeded and %d failed. Last result: %s",
		len(observations), succeeded, len(observations)-succeeded,
		truncate(observations[len(observations)-1].Content, 500))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
