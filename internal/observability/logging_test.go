package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("unmarshal log line: %v\n%s", err, line)
	}
	return record
}

func TestRedactsAPIKeysInMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info(context.Background(), "auth failed with api_key: abcdef0123456789abcdef")

	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("api key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got %s", out)
	}
}

func TestRedactsProviderKeyShapes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	key := "sk-" + strings.Repeat("a", 48)

	logger.Error(context.Background(), "request rejected", "detail", "used key "+key)

	if strings.Contains(buf.String(), key) {
		t.Errorf("provider key leaked: %s", buf.String())
	}
}

func TestRedactsErrorValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Warn(context.Background(), "call failed",
		"error", errWithSecret{"401 with bearer token: abc123def456ghi789jkl"})

	if strings.Contains(buf.String(), "abc123def456ghi789jkl") {
		t.Errorf("token leaked through error value: %s", buf.String())
	}
}

type errWithSecret struct{ msg string }

func (e errWithSecret) Error() string { return e.msg }

func TestContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithSessionID(ctx, "sess-7")
	ctx = WithUserID(ctx, "u-1")
	logger.Info(ctx, "processing")

	record := logLine(t, &buf)
	if record["run_id"] != "run-42" {
		t.Errorf("run_id = %v", record["run_id"])
	}
	if record["session_id"] != "sess-7" {
		t.Errorf("session_id = %v", record["session_id"])
	}
	if record["user_id"] != "u-1" {
		t.Errorf("user_id = %v", record["user_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %s", buf.String())
	}

	logger.Warn(context.Background(), "loud")
	if buf.Len() == 0 {
		t.Error("warn should pass at warn level")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	logger.Info(context.Background(), "hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text handler output, got %s", buf.String())
	}
}

func TestWithAttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).With("component", "loop")

	logger.Info(context.Background(), "tick")
	record := logLine(t, &buf)
	if record["component"] != "loop" {
		t.Errorf("component = %v", record["component"])
	}
}

func TestRunIDHelper(t *testing.T) {
	if got := RunID(context.Background()); got != "" {
		t.Errorf("empty context should yield empty run id, got %q", got)
	}
	ctx := WithRunID(context.Background(), "run-9")
	if got := RunID(ctx); got != "run-9" {
		t.Errorf("RunID = %q", got)
	}
}
