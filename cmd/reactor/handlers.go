// Package main provides the CLI entry point for the Reactor agent core.
//
// handlers.go contains the RunE handler functions for the CLI commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/reactor/internal/agent"
	"github.com/haasonsaas/reactor/internal/config"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/usage"
	"github.com/haasonsaas/reactor/pkg/models"
)

// runOptions carries the flags and arguments for the run command.
type runOptions struct {
	configPath string
	sessionID  string
	userID     string
	message    string
	jsonOutput bool
	quiet      bool
}

// runRun implements the run command: load config, build the orchestrator,
// process one message, print the result.
func runRun(ctx context.Context, opts runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "reactor",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "warning: trace shutdown:", err)
		}
	}()

	orch, err := agent.NewOrchestrator(cfg, agent.WithOrchestratorTracer(tracer))
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop(context.Background())

	result, err := orch.ProcessMessage(ctx, agent.Request{
		SessionID:  opts.sessionID,
		UserID:     opts.userID,
		Message:    opts.message,
		OnProgress: progressPrinter(opts.quiet),
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Message)
	if !opts.quiet {
		printRunSummary(result)
	}
	return nil
}

// loadConfig reads the config file when one is given, or falls back to
// defaults with a provider chain assembled from API key environment
// variables.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	priority := 0
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		cfg.Providers.Chain = append(cfg.Providers.Chain, config.ProviderConfig{
			Name:     "anthropic",
			APIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			Priority: priority,
		})
		priority++
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		cfg.Providers.Chain = append(cfg.Providers.Chain, config.ProviderConfig{
			Name:     "openai",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Priority: priority,
		})
	}
	if len(cfg.Providers.Chain) == 0 {
		return nil, fmt.Errorf("no config file and no API keys in the environment; set ANTHROPIC_API_KEY or OPENAI_API_KEY, or pass --config")
	}
	return cfg, nil
}

// progressPrinter renders progress events to stderr while a run executes.
// stdout stays clean for the final answer.
func progressPrinter(quiet bool) models.ProgressFunc {
	if quiet {
		return nil
	}
	return func(event models.ProgressEvent) {
		switch event.Type {
		case models.ProgressThinking:
			fmt.Fprintf(os.Stderr, "[%d] thinking...\n", event.Iteration)
		case models.ProgressThought:
			fmt.Fprintf(os.Stderr, "[%d] %s\n", event.Iteration, event.Message)
		case models.ProgressStepStart:
			fmt.Fprintf(os.Stderr, "[%d] running %s\n", event.Iteration, event.ToolName)
		case models.ProgressStepComplete:
			fmt.Fprintf(os.Stderr, "[%d] %s done\n", event.Iteration, event.ToolName)
		case models.ProgressStepFailed:
			fmt.Fprintf(os.Stderr, "[%d] %s failed: %s\n", event.Iteration, event.ToolName, event.Message)
		case models.ProgressError:
			fmt.Fprintf(os.Stderr, "[%d] error: %s\n", event.Iteration, event.Message)
		}
	}
}

// printRunSummary writes a one-line run summary to stderr.
func printRunSummary(result *models.ExecutionResult) {
	totals := usage.Totals{
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		CostUSD:      result.Usage.CostUSD,
	}
	fmt.Fprintf(os.Stderr, "\n%d iterations in %s, %s\n",
		result.Iterations,
		result.Duration.Round(10*time.Millisecond),
		usage.FormatTotals(totals),
	)
}
