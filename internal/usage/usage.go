// Package usage tracks per-run token consumption, estimates cost, and fires
// budget alerts.
package usage

import (
	"sync"
	"time"

	"github.com/haasonsaas/reactor/pkg/models"
)

// Cost is pricing per million tokens.
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Estimate returns the dollar cost for the given usage.
func (c Cost) Estimate(u models.TokenUsage) float64 {
	return (float64(u.InputTokens)*c.Input + float64(u.OutputTokens)*c.Output) / 1_000_000
}

// defaultPricing covers the models the built-in providers default to.
// Unknown models estimate at zero; override via SetPricing.
var defaultPricing = map[string]Cost{
	"claude-sonnet-4-20250514":   {Input: 3.00, Output: 15.00},
	"claude-opus-4-20250514":     {Input: 15.00, Output: 75.00},
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
	"gpt-4o":                     {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
	"gpt-4-turbo":                {Input: 10.00, Output: 30.00},
}

// Totals aggregates a set of usage entries.
type Totals struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// Total returns the combined token count.
func (t Totals) Total() int64 {
	return t.InputTokens + t.OutputTokens
}

// BudgetAlert is raised once per run when the cost budget is crossed.
type BudgetAlert struct {
	RunID     string  `json:"run_id"`
	BudgetUSD float64 `json:"budget_usd"`
	SpentUSD  float64 `json:"spent_usd"`
}

// OnBudgetExceeded is notified when a run's spend first crosses its budget.
type OnBudgetExceeded func(alert BudgetAlert)

// Ledger records usage entries per run and per model. Entries are pruned by
// age to bound memory. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  []models.TokenUsage
	byRun    map[string]*Totals
	byModel  map[string]*Totals
	pricing  map[string]Cost
	maxAge   time.Duration
	maxCount int

	budgetUSD float64
	alerted   map[string]bool
	onBudget  OnBudgetExceeded

	nowFunc func() time.Time
}

// Config configures a Ledger.
type Config struct {
	// MaxAge prunes entries older than this. Default: 24h.
	MaxAge time.Duration

	// MaxCount caps retained entries. Default: 10000.
	MaxCount int

	// BudgetUSD is the per-run cost budget. Zero disables alerts.
	BudgetUSD float64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBudgetCallback registers the budget alert callback.
func WithBudgetCallback(fn OnBudgetExceeded) Option {
	return func(l *Ledger) { l.onBudget = fn }
}

// NewLedger creates a ledger with default pricing.
func NewLedger(config Config, opts ...Option) *Ledger {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}

	pricing := make(map[string]Cost, len(defaultPricing))
	for model, cost := range defaultPricing {
		pricing[model] = cost
	}

	l := &Ledger{
		byRun:     make(map[string]*Totals),
		byModel:   make(map[string]*Totals),
		pricing:   pricing,
		maxAge:    config.MaxAge,
		maxCount:  config.MaxCount,
		budgetUSD: config.BudgetUSD,
		alerted:   make(map[string]bool),
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetNowFunc sets a custom clock for testing.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = fn
}

// SetPricing overrides or adds pricing for a model.
func (l *Ledger) SetPricing(model string, cost Cost) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pricing[model] = cost
}

// Record appends a usage entry for a run, computes its cost, and fires the
// budget alert the first time the run's spend crosses the budget.
func (l *Ledger) Record(runID string, u models.TokenUsage) models.TokenUsage {
	l.mu.Lock()

	if u.Timestamp.IsZero() {
		u.Timestamp = l.nowFunc()
	}
	if u.CostUSD == 0 {
		if cost, ok := l.pricing[u.Model]; ok {
			u.CostUSD = cost.Estimate(u)
		}
	}

	l.entries = append(l.entries, u)
	l.addLocked(l.byRun, runID, u)
	l.addLocked(l.byModel, u.Provider+":"+u.Model, u)
	l.pruneLocked()

	var alert *BudgetAlert
	if l.budgetUSD > 0 && !l.alerted[runID] {
		if spent := l.byRun[runID].CostUSD; spent >= l.budgetUSD {
			l.alerted[runID] = true
			alert = &BudgetAlert{RunID: runID, BudgetUSD: l.budgetUSD, SpentUSD: spent}
		}
	}
	onBudget := l.onBudget
	l.mu.Unlock()

	if alert != nil && onBudget != nil {
		onBudget(*alert)
	}
	return u
}

func (l *Ledger) addLocked(m map[string]*Totals, key string, u models.TokenUsage) {
	t := m[key]
	if t == nil {
		t = &Totals{}
		m[key] = t
	}
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CostUSD += u.CostUSD
	t.Calls++
}

func (l *Ledger) pruneLocked() {
	cutoff := l.nowFunc().Add(-l.maxAge)
	start := 0
	for start < len(l.entries) && !l.entries[start].Timestamp.After(cutoff) {
		start++
	}
	if start > 0 {
		l.entries = l.entries[start:]
	}
	if len(l.entries) > l.maxCount {
		l.entries = l.entries[len(l.entries)-l.maxCount:]
	}
}

// RunTotals returns the aggregate for a run, or zero totals when unknown.
func (l *Ledger) RunTotals(runID string) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t := l.byRun[runID]; t != nil {
		return *t
	}
	return Totals{}
}

// ModelTotals returns the aggregate for a provider:model pair.
func (l *Ledger) ModelTotals(provider, model string) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t := l.byModel[provider+":"+model]; t != nil {
		return *t
	}
	return Totals{}
}

// Summary returns aggregates for every provider:model pair seen.
func (l *Ledger) Summary() map[string]Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Totals, len(l.byModel))
	for k, v := range l.byModel {
		out[k] = *v
	}
	return out
}

// Recent returns up to limit most recent entries, oldest first.
func (l *Ledger) Recent(limit int) []models.TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]models.TokenUsage, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// ForgetRun drops a run's aggregate and alert state. Called when a run's
// session is evicted.
func (l *Ledger) ForgetRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byRun, runID)
	delete(l.alerted, runID)
}
