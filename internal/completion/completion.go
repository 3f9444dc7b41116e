// Package completion scores whether a run has genuinely finished. The
// promise is a heuristic confidence check, not a hard guarantee: it guards
// against an agent stopping before the task is done, and against reporting
// success when every action failed.
package completion

import (
	"context"
	"math"
	"regexp"
	"time"

	"github.com/haasonsaas/reactor/pkg/models"
)

// Status is the promise's judgment of the run.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusVerifying  Status = "verifying"
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
	StatusBlocked    Status = "blocked"
	StatusFailed     Status = "failed"
)

// DefaultThreshold is the confidence required for StatusComplete.
const DefaultThreshold = 0.8

// Evaluation is the scored judgment.
type Evaluation struct {
	Status     Status   `json:"status"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Snapshot is the run state the promise evaluates.
type Snapshot struct {
	Iterations   int
	Plan         *models.ExecutionPlan
	Thoughts     []models.Thought
	Observations []models.Observation
	FinalMessage string
}

// StopPredicate detects premature-termination phrasing in free-text
// reasoning. It is pluggable because the patterns are language-specific
// and need tuning without touching the evaluator.
type StopPredicate func(reasoning string) bool

// Verifier is an optional custom check that overrides the heuristic when it
// returns a non-nil evaluation.
type Verifier func(ctx context.Context, snap *Snapshot) (*Evaluation, error)

var prematurePatterns = regexp.MustCompile(`(?i)\b(` +
	`i cannot|i can't|unable to|cannot proceed|need more information|` +
	`giving up|i'll stop here|will stop here|not possible to continue)\b`)

var completionPatterns = regexp.MustCompile(`(?i)\b(` +
	`task (is )?complete|completed successfully|successfully (finished|completed|created|updated)|` +
	`all (steps|tasks) (are )?(done|complete)|finished the task|done with the task)\b`)

// DefaultStopPredicate matches common premature-termination phrasing.
func DefaultStopPredicate(reasoning string) bool {
	return prematurePatterns.MatchString(reasoning)
}

// Config configures a Promise.
type Config struct {
	// MinIterations below which the run is always in_progress. Default: 1.
	MinIterations int

	// Threshold is the confidence required for complete. Default: 0.8.
	Threshold float64

	// VerifierTimeout bounds the custom verifier. Default: 10s.
	VerifierTimeout time.Duration
}

// Promise evaluates run completion.
type Promise struct {
	config    Config
	premature StopPredicate
	verifier  Verifier
}

// Option configures a Promise.
type Option func(*Promise)

// WithStopPredicate replaces the premature-termination detector.
func WithStopPredicate(p StopPredicate) Option {
	return func(pr *Promise) { pr.premature = p }
}

// WithVerifier installs a custom verifier that overrides the heuristic.
func WithVerifier(v Verifier) Option {
	return func(pr *Promise) { pr.verifier = v }
}

// New creates a Promise.
func New(config Config, opts ...Option) *Promise {
	if config.MinIterations <= 0 {
		config.MinIterations = 1
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.VerifierTimeout <= 0 {
		config.VerifierTimeout = 10 * time.Second
	}
	p := &Promise{config: config, premature: DefaultStopPredicate}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate scores the snapshot. When a verifier is installed, its verdict
// wins; verifier errors fall back to the heuristic.
func (p *Promise) Evaluate(ctx context.Context, snap *Snapshot) Evaluation {
	if p.verifier != nil {
		vctx, cancel := context.WithTimeout(ctx, p.config.VerifierTimeout)
		defer cancel()
		if eval, err := p.verifier(vctx, snap); err == nil && eval != nil {
			return *eval
		}
	}
	return p.heuristic(snap)
}

func (p *Promise) heuristic(snap *Snapshot) Evaluation {
	var reasons []string

	if snap.Iterations < p.config.MinIterations {
		return Evaluation{
			Status:     StatusInProgress,
			Confidence: 0.1,
			Reasons:    []string{"below minimum iterations"},
		}
	}

	confidence := 0.5

	// Observation success rate.
	successRate := -1.0
	if n := len(snap.Observations); n > 0 {
		successes := 0
		for _, o := range snap.Observations {
			if o.Success {
				successes++
			}
		}
		successRate = float64(successes) / float64(n)
		confidence += 0.2 * successRate
		if successRate < 1 {
			reasons = append(reasons, "some observations failed")
		}
	}

	// Plan step completion.
	if snap.Plan != nil && len(snap.Plan.Steps) > 0 {
		ratio := snap.Plan.CompletionRatio()
		confidence += 0.2 * ratio
		if ratio < 1 {
			reasons = append(reasons, "plan has unfinished steps")
		}
	}

	// Completion phrasing in the last thought or the final message.
	if matchesCompletion(snap) {
		confidence += 0.2
		reasons = append(reasons, "completion phrasing detected")
	}

	// Premature-termination phrasing in the last thought's reasoning.
	prematureHit := false
	if last := lastThought(snap); last != nil && p.premature != nil && p.premature(last.Reasoning) {
		prematureHit = true
		confidence -= 0.3
		reasons = append(reasons, "premature termination phrasing detected")
	}

	confidence = math.Max(0, math.Min(1, confidence))

	status := StatusIncomplete
	switch {
	case successRate == 0 && len(snap.Observations) > 0:
		status = StatusFailed
		reasons = append(reasons, "every observation failed")
	case prematureHit:
		status = StatusIncomplete
	case trailingFailures(snap.Observations) >= 2:
		status = StatusBlocked
		reasons = append(reasons, "repeated trailing failures")
	case confidence >= p.config.Threshold:
		status = StatusComplete
	case confidence >= 0.5:
		status = StatusVerifying
	}

	return Evaluation{Status: status, Confidence: confidence, Reasons: reasons}
}

func lastThought(snap *Snapshot) *models.Thought {
	if len(snap.Thoughts) == 0 {
		return nil
	}
	return &snap.Thoughts[len(snap.Thoughts)-1]
}

func matchesCompletion(snap *Snapshot) bool {
	if last := lastThought(snap); last != nil && completionPatterns.MatchString(last.Reasoning) {
		return true
	}
	if completionPatterns.MatchString(snap.FinalMessage) {
		return true
	}
	if n := len(snap.Observations); n > 0 && completionPatterns.MatchString(snap.Observations[n-1].Content) {
		return true
	}
	return false
}

// trailingFailures counts consecutive failed observations at the tail.
func trailingFailures(obs []models.Observation) int {
	count := 0
	for i := len(obs) - 1; i >= 0; i-- {
		if obs[i].Success {
			break
		}
		count++
	}
	return count
}

// Satisfied reports whether the evaluation clears the completion bar.
func (e Evaluation) Satisfied() bool {
	return e.Status == StatusComplete
}
