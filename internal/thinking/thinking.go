// Package thinking maps a configured reasoning depth onto prompt
// augmentation and extracts thinking content from model output.
package thinking

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/reactor/internal/providers"
)

// Depth is the configured reasoning depth.
type Depth string

const (
	DepthNone   Depth = "none"
	DepthLow    Depth = "low"
	DepthMedium Depth = "medium"
	DepthHigh   Depth = "high"
)

// ParseDepth normalizes a config string to a Depth, defaulting to medium.
func ParseDepth(s string) Depth {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return DepthNone
	case "low":
		return DepthLow
	case "high", "deep":
		return DepthHigh
	default:
		return DepthMedium
	}
}

// thinkingBudgets are token budgets for provider-native extended thinking.
var thinkingBudgets = map[Depth]int{
	DepthMedium: 4096,
	DepthHigh:   16384,
}

var depthInstructions = map[Depth]string{
	DepthLow: "Before answering, briefly consider your approach inside <thinking> tags. " +
		"Keep it to a sentence or two.",
	DepthMedium: "Before answering, reason step by step inside <thinking> tags: " +
		"restate the goal, list what you know, and decide the next action. " +
		"The <thinking> block is never shown to the user.",
	DepthHigh: "Before answering, reason thoroughly inside <thinking> tags: " +
		"restate the goal, enumerate options, weigh tradeoffs, check your assumptions " +
		"against prior observations, and only then decide the next action. " +
		"The <thinking> block is never shown to the user.",
}

var thinkingBlockRe = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)

// Engine augments prompts and extracts thinking per the configured depth.
type Engine struct {
	depth Depth
}

// NewEngine creates an engine at the given depth.
func NewEngine(depth Depth) *Engine {
	return &Engine{depth: depth}
}

// Depth returns the configured depth.
func (e *Engine) Depth() Depth {
	return e.depth
}

// AugmentSystemPrompt appends the depth's reasoning instructions to the base
// system prompt. DepthNone returns the base unchanged.
func (e *Engine) AugmentSystemPrompt(base string) string {
	instr, ok := depthInstructions[e.depth]
	if !ok {
		return base
	}
	if base == "" {
		return instr
	}
	return base + "\n\n" + instr
}

// ApplyToRequest enables provider-native extended thinking for depths that
// warrant it.
func (e *Engine) ApplyToRequest(req *providers.CompletionRequest) {
	if budget, ok := thinkingBudgets[e.depth]; ok {
		req.EnableThinking = true
		req.ThinkingBudgetTokens = budget
	}
}

// Extract splits model output into thinking content and visible content.
// Inline <thinking> blocks are removed from the visible text; multiple blocks
// are joined. Providers with native thinking bypass this and report thinking
// separately.
func Extract(content string) (thinking, visible string) {
	matches := thinkingBlockRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", content
	}

	var blocks []string
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			blocks = append(blocks, t)
		}
	}
	visible = strings.TrimSpace(thinkingBlockRe.ReplaceAllString(content, ""))
	return strings.Join(blocks, "\n\n"), visible
}
