package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/reactor/internal/providers"
	"github.com/haasonsaas/reactor/pkg/models"
)

func TestParseThoughtToolCallBlockTakesPrecedence(t *testing.T) {
	resp := &providers.LLMResponse{
		Content: `{"reasoning": "envelope says complete", "action": "complete"}`,
		ToolCalls: []models.ToolCall{{
			ID:    "tc-1",
			Name:  "search",
			Input: json.RawMessage(`{"query": "go concurrency"}`),
		}},
	}

	thought, plan := parseThought(resp, 3)
	if thought.NextAction != models.ActionUseTool {
		t.Fatalf("expected use_tool, got %s", thought.NextAction)
	}
	if thought.ToolName != "search" {
		t.Errorf("tool name = %q", thought.ToolName)
	}
	if thought.ToolInput["query"] != "go concurrency" {
		t.Errorf("tool input = %v", thought.ToolInput)
	}
	if thought.Iteration != 3 {
		t.Errorf("iteration = %d", thought.Iteration)
	}
	if plan != nil {
		t.Error("tool-call parse should not produce a plan")
	}
}

func TestParseThoughtEnvelope(t *testing.T) {
	resp := &providers.LLMResponse{Content: "Here is my decision:\n```json\n" + `{
		"reasoning": "need the file contents first",
		"action": "use_tool",
		"tool": "read_file",
		"tool_input": {"path": "main.go"},
		"confidence": 0.75,
		"plan": ["read the file", "summarize it"]
	}` + "\n```"}

	thought, plan := parseThought(resp, 0)
	if thought.NextAction != models.ActionUseTool || thought.ToolName != "read_file" {
		t.Fatalf("parsed wrong action: %+v", thought)
	}
	if thought.Confidence != 0.75 {
		t.Errorf("confidence = %v", thought.Confidence)
	}
	if len(plan) != 2 || plan[0] != "read the file" {
		t.Errorf("plan = %v", plan)
	}
}

func TestParseThoughtActionMapping(t *testing.T) {
	cases := []struct {
		action string
		want   models.NextAction
	}{
		{"complete", models.ActionComplete},
		{"ask_user", models.ActionAskUser},
		{"retry", models.ActionRetry},
		{"something_else", models.ActionComplete},
	}
	for _, tc := range cases {
		resp := &providers.LLMResponse{
			Content: `{"reasoning": "r", "action": "` + tc.action + `"}`,
		}
		thought, _ := parseThought(resp, 0)
		if thought.NextAction != tc.want {
			t.Errorf("action %q parsed as %s, want %s", tc.action, thought.NextAction, tc.want)
		}
	}
}

func TestParseThoughtUseToolWithoutNameBecomesComplete(t *testing.T) {
	resp := &providers.LLMResponse{
		Content: `{"reasoning": "forgot the tool", "action": "use_tool"}`,
	}
	thought, _ := parseThought(resp, 0)
	if thought.NextAction != models.ActionComplete {
		t.Fatalf("got %s", thought.NextAction)
	}
}

func TestParseThoughtUnparseableBecomesComplete(t *testing.T) {
	resp := &providers.LLMResponse{Content: "The task is done, I fixed the bug."}
	thought, _ := parseThought(resp, 2)
	if thought.NextAction != models.ActionComplete {
		t.Fatalf("got %s", thought.NextAction)
	}
	if thought.Reasoning != "The task is done, I fixed the bug." {
		t.Errorf("reasoning = %q", thought.Reasoning)
	}
	if thought.Confidence != 0.5 {
		t.Errorf("confidence = %v", thought.Confidence)
	}
}

func TestParseThoughtClampsConfidence(t *testing.T) {
	resp := &providers.LLMResponse{
		Content: `{"reasoning": "r", "action": "complete", "confidence": 4.2}`,
	}
	thought, _ := parseThought(resp, 0)
	if thought.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", thought.Confidence)
	}
}

func TestExtractPayloadRejectsEmptyEnvelope(t *testing.T) {
	if _, ok := extractPayload(`{"unrelated": true}`); ok {
		t.Error("envelope without action or reasoning accepted")
	}
	if _, ok := extractPayload("no json here"); ok {
		t.Error("plain text accepted as envelope")
	}
}

func TestReflectOutcomes(t *testing.T) {
	useTool := models.Thought{NextAction: models.ActionUseTool}

	r := reflect(useTool, &models.Observation{Success: true})
	if !r.Satisfied || !r.Continue || r.NextStep != models.ReflectContinue {
		t.Errorf("success observation: %+v", r)
	}

	r = reflect(useTool, &models.Observation{Success: false})
	if r.Satisfied || !r.Continue || r.NextStep != models.ReflectRetry {
		t.Errorf("failed observation: %+v", r)
	}

	r = reflect(models.Thought{NextAction: models.ActionComplete}, nil)
	if r.Continue {
		t.Errorf("complete without observation should stop: %+v", r)
	}

	r = reflect(models.Thought{NextAction: models.ActionRetry}, nil)
	if !r.Continue {
		t.Errorf("retry without observation should continue: %+v", r)
	}
}

func TestFallbackFinalMessage(t *testing.T) {
	ec := NewExecutionContext("s", "u", nil)
	if got := fallbackFinalMessage(ec); got == "" {
		t.Error("empty run should still produce a message")
	}

	th := ec.AddThought(models.Thought{Reasoning: "the answer is 42"})
	if got := fallbackFinalMessage(ec); got != "the answer is 42" {
		t.Errorf("no-observation run should surface the last reasoning, got %q", got)
	}

	ec.AddObservation(models.Observation{ThoughtID: th.ID, Success: true, Content: "sunny, 20C"})
	got := fallbackFinalMessage(ec)
	if !strings.Contains(got, "sunny, 20C") {
		t.Errorf("all-success message should carry the last result: %q", got)
	}

	th2 := ec.AddThought(models.Thought{Reasoning: "try again"})
	ec.AddObservation(models.Observation{ThoughtID: th2.ID, Success: false, Content: "connection refused"})
	got = fallbackFinalMessage(ec)
	if !strings.Contains(got, "1 failed") {
		t.Errorf("partial-failure message should count failures: %q", got)
	}
}

func TestJoinThinking(t *testing.T) {
	if got := joinThinking("", "inline only"); got != "inline only" {
		t.Errorf("got %q", got)
	}
	if got := joinThinking("native only", ""); got != "native only" {
		t.Errorf("got %q", got)
	}
	if got := joinThinking("native", "inline"); got != "native\n\ninline" {
		t.Errorf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 20)
	if got := truncate(long, 10); got != strings.Repeat("x", 10)+"..." {
		t.Errorf("got %q", got)
	}
}
