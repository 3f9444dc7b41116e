// Package compaction keeps conversation history within a token budget by
// folding older messages into a single generated summary. The leading system
// message and the most recent messages are always kept verbatim.
package compaction

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/pkg/models"
)

const (
	// CharsPerToken is the approximate character-to-token ratio used for
	// estimation. No tokenizer dependency; accuracy within ~20% is enough
	// for a compaction trigger.
	CharsPerToken = 4

	// MessageOverheadTokens is a fixed per-message allowance covering role
	// markers, ids, and framing that content length does not account for.
	MessageOverheadTokens = 4

	// SummaryMetadataKey marks a summary message and records how many
	// messages it replaced.
	SummaryMetadataKey = "compacted_message_count"
)

// Summarizer produces a summary of the given messages. Implementations may
// call an LLM; the compactor falls back to a local heuristic when the
// summarizer is nil or fails.
type Summarizer func(ctx context.Context, messages []models.AgentMessage) (string, error)

// Config controls when compaction triggers and how much history survives it.
type Config struct {
	// MaxTokensBeforeCompaction is the estimated-token ceiling. History at
	// or below it is left untouched.
	MaxTokensBeforeCompaction int

	// PreserveRecentMessages is how many trailing messages are kept
	// verbatim, not counting the leading system message.
	PreserveRecentMessages int
}

func (c Config) withDefaults() Config {
	if c.MaxTokensBeforeCompaction <= 0 {
		c.MaxTokensBeforeCompaction = 50000
	}
	if c.PreserveRecentMessages <= 0 {
		c.PreserveRecentMessages = 10
	}
	return c
}

// Result reports what a compaction pass did.
type Result struct {
	// Messages is the post-compaction history. When Compacted is false it
	// is the input slice unchanged.
	Messages []models.AgentMessage

	// Compacted is true when older messages were folded into a summary.
	Compacted bool

	// FoldedCount is the number of messages the summary replaced.
	FoldedCount int

	// TokensBefore and TokensAfter are estimated counts around the pass.
	TokensBefore int
	TokensAfter  int
}

// Compactor replaces old history with a summary when the estimate exceeds
// the ceiling.
type Compactor struct {
	cfg        Config
	summarizer Summarizer
	logger     *observability.Logger
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithSummarizer installs an external summary generator. The local heuristic
// remains the fallback when it errors.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compactor) { c.summarizer = s }
}

// WithLogger sets the logger used for compaction debug output.
func WithLogger(l *observability.Logger) Option {
	return func(c *Compactor) { c.logger = l }
}

// New creates a Compactor. Zero config fields get defaults.
func New(cfg Config, opts ...Option) *Compactor {
	c := &Compactor{
		cfg:    cfg.withDefaults(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateTokens estimates the token cost of one message: content plus
// serialized tool traffic at CharsPerToken, plus fixed overhead.
func EstimateTokens(msg *models.AgentMessage) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return (chars+CharsPerToken-1)/CharsPerToken + MessageOverheadTokens
}

// EstimateHistoryTokens sums EstimateTokens over the history.
func EstimateHistoryTokens(messages []models.AgentMessage) int {
	total := 0
	for i := range messages {
		total += EstimateTokens(&messages[i])
	}
	return total
}

// NeedsCompaction reports whether the history's estimated tokens exceed the
// configured ceiling.
func (c *Compactor) NeedsCompaction(messages []models.AgentMessage) bool {
	return EstimateHistoryTokens(messages) > c.cfg.MaxTokensBeforeCompaction
}

// Compact folds older messages into one summary message. The leading system
// message (if any) and the last PreserveRecentMessages messages are kept
// verbatim. When the history is already within budget, or too short to have
// anything to fold, it is returned unchanged.
func (c *Compactor) Compact(ctx context.Context, messages []models.AgentMessage) (*Result, error) {
	res := &Result{
		Messages:     messages,
		TokensBefore: EstimateHistoryTokens(messages),
	}
	res.TokensAfter = res.TokensBefore

	if res.TokensBefore <= c.cfg.MaxTokensBeforeCompaction {
		return res, nil
	}

	var system *models.AgentMessage
	body := messages
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		system = &messages[0]
		body = messages[1:]
	}

	keep := c.cfg.PreserveRecentMessages
	if len(body) <= keep {
		return res, nil
	}

	folded := body[:len(body)-keep]
	recent := body[len(body)-keep:]

	summary, err := c.summarize(ctx, folded)
	if err != nil {
		return res, fmt.Errorf("generating summary: %w", err)
	}

	summaryMsg := models.AgentMessage{
		ID:      uuid.NewString(),
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("Summary of %d earlier messages:\n%s", len(folded), summary),
		Metadata: map[string]any{
			SummaryMetadataKey: len(folded),
		},
		CreatedAt: time.Now(),
	}

	out := make([]models.AgentMessage, 0, len(recent)+2)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, summaryMsg)
	out = append(out, recent...)

	res.Messages = out
	res.Compacted = true
	res.FoldedCount = len(folded)
	res.TokensAfter = EstimateHistoryTokens(out)

	c.logger.Debug(ctx, "compacted history",
		"folded", res.FoldedCount,
		"tokens_before", res.TokensBefore,
		"tokens_after", res.TokensAfter)

	return res, nil
}

func (c *Compactor) summarize(ctx context.Context, folded []models.AgentMessage) (string, error) {
	if c.summarizer != nil {
		summary, err := c.summarizer(ctx, folded)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, nil
		}
		if err != nil {
			c.logger.Warn(ctx, "summarizer failed, using heuristic", "error", err)
		}
	}
	return HeuristicSummary(folded), nil
}

// IsSummary reports whether a message was produced by compaction and, if so,
// how many messages it folded.
func IsSummary(msg *models.AgentMessage) (int, bool) {
	if msg == nil || msg.Metadata == nil {
		return 0, false
	}
	switch v := msg.Metadata[SummaryMetadataKey].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

var filePathRe = regexp.MustCompile(`[\w./-]+\.[A-Za-z]{1,8}\b`)

// HeuristicSummary builds a summary without an LLM: the user requests, the
// tools invoked with their outcomes, and any file paths mentioned.
func HeuristicSummary(messages []models.AgentMessage) string {
	var (
		requests []string
		tools    = make(map[string]int)
		failures = make(map[string]int)
		files    = make(map[string]struct{})
	)

	for i := range messages {
		msg := &messages[i]
		if msg.Role == models.RoleUser && strings.TrimSpace(msg.Content) != "" {
			requests = append(requests, firstLine(msg.Content, 120))
		}
		for _, tc := range msg.ToolCalls {
			tools[tc.Name]++
		}
		for _, tr := range msg.ToolResults {
			if tr.IsError {
				failures[tr.ToolCallID]++
			}
		}
		for _, f := range filePathRe.FindAllString(msg.Content, 10) {
			files[f] = struct{}{}
		}
	}

	var sb strings.Builder
	if len(requests) > 0 {
		sb.WriteString("User requests:\n")
		for _, r := range requests {
			sb.WriteString("- " + r + "\n")
		}
	}
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("Tools used:\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("- %s (%d calls)\n", name, tools[name]))
		}
	}
	if len(failures) > 0 {
		sb.WriteString(fmt.Sprintf("Failed tool results: %d\n", len(failures)))
	}
	if len(files) > 0 {
		paths := make([]string, 0, len(files))
		for f := range files {
			paths = append(paths, f)
		}
		sort.Strings(paths)
		sb.WriteString("Files mentioned: " + strings.Join(paths, ", ") + "\n")
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("%d earlier messages in the conversation.", len(messages))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
