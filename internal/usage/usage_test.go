package usage

import (
	"testing"
	"time"

	"github.com/haasonsaas/reactor/pkg/models"
)

func TestRecordComputesCost(t *testing.T) {
	l := NewLedger(Config{})

	got := l.Record("run-1", models.TokenUsage{
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-20250514",
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	})

	// $3/M input + $15/M output.
	if got.CostUSD != 18.00 {
		t.Errorf("expected cost 18.00, got %.2f", got.CostUSD)
	}
	totals := l.RunTotals("run-1")
	if totals.Total() != 2_000_000 || totals.Calls != 1 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestUnknownModelCostsZero(t *testing.T) {
	l := NewLedger(Config{})
	got := l.Record("run-1", models.TokenUsage{Model: "mystery-model", InputTokens: 1000})
	if got.CostUSD != 0 {
		t.Errorf("unknown model should cost zero, got %.4f", got.CostUSD)
	}
}

func TestSetPricingOverrides(t *testing.T) {
	l := NewLedger(Config{})
	l.SetPricing("custom-model", Cost{Input: 1.00, Output: 2.00})

	got := l.Record("run-1", models.TokenUsage{Model: "custom-model", InputTokens: 500_000, OutputTokens: 500_000})
	if got.CostUSD != 1.50 {
		t.Errorf("expected cost 1.50, got %.2f", got.CostUSD)
	}
}

func TestTotalsAccumulateAcrossCalls(t *testing.T) {
	l := NewLedger(Config{})
	for i := 0; i < 3; i++ {
		l.Record("run-1", models.TokenUsage{
			Provider:     "openai",
			Model:        "gpt-4o",
			InputTokens:  100,
			OutputTokens: 50,
		})
	}

	totals := l.ModelTotals("openai", "gpt-4o")
	if totals.InputTokens != 300 || totals.OutputTokens != 150 || totals.Calls != 3 {
		t.Errorf("unexpected model totals: %+v", totals)
	}
}

func TestBudgetAlertFiresOnce(t *testing.T) {
	var alerts []BudgetAlert
	l := NewLedger(Config{BudgetUSD: 10.00}, WithBudgetCallback(func(a BudgetAlert) {
		alerts = append(alerts, a)
	}))

	u := models.TokenUsage{Model: "claude-opus-4-20250514", OutputTokens: 100_000} // $7.50 per call
	l.Record("run-1", u)
	if len(alerts) != 0 {
		t.Fatal("alert should not fire below budget")
	}
	l.Record("run-1", u)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].RunID != "run-1" || alerts[0].SpentUSD < 10.00 {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}

	// Further spend on the same run stays silent.
	l.Record("run-1", u)
	if len(alerts) != 1 {
		t.Errorf("alert fired again for the same run")
	}

	// Separate runs alert independently.
	l.Record("run-2", u)
	l.Record("run-2", u)
	if len(alerts) != 2 {
		t.Errorf("expected second run to alert, got %d alerts", len(alerts))
	}
}

func TestPruneByAge(t *testing.T) {
	l := NewLedger(Config{MaxAge: time.Hour})
	now := time.Now()
	l.SetNowFunc(func() time.Time { return now })

	l.Record("run-1", models.TokenUsage{Model: "gpt-4o", InputTokens: 10})
	now = now.Add(2 * time.Hour)
	l.Record("run-1", models.TokenUsage{Model: "gpt-4o", InputTokens: 20})

	recent := l.Recent(0)
	if len(recent) != 1 {
		t.Fatalf("expected old entry pruned, got %d entries", len(recent))
	}
	if recent[0].InputTokens != 20 {
		t.Errorf("expected newest entry retained, got %+v", recent[0])
	}
}

func TestForgetRun(t *testing.T) {
	l := NewLedger(Config{})
	l.Record("run-1", models.TokenUsage{Model: "gpt-4o", InputTokens: 10})
	l.ForgetRun("run-1")
	if got := l.RunTotals("run-1"); got.Calls != 0 {
		t.Errorf("expected zero totals after forget, got %+v", got)
	}
}

func TestFormatTokenCount(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5k"},
		{25000, "25k"},
		{2_500_000, "2.5m"},
	}
	for _, tc := range cases {
		if got := FormatTokenCount(tc.in); got != tc.want {
			t.Errorf("FormatTokenCount(%d) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	if got := FormatUSD(1.237); got != "$1.24" {
		t.Errorf("expected $1.24, got %s", got)
	}
	if got := FormatUSD(0.0042); got != "$0.0042" {
		t.Errorf("expected $0.0042, got %s", got)
	}
	if got := FormatUSD(0); got != "" {
		t.Errorf("expected empty for zero, got %s", got)
	}
}
