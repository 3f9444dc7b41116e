// Package main provides the CLI entry point for the Reactor agent core.
//
// Reactor runs autonomous reasoning loops over LLM providers (Anthropic,
// OpenAI) with tool execution, provider fallback, and session continuity.
//
// # Basic Usage
//
// Run one message through the agent:
//
//	reactor run "summarize the open incidents"
//
// Run with a config file and a named session:
//
//	reactor run --config reactor.yaml --session triage "what changed since yesterday?"
//
// # Environment Variables
//
//   - REACTOR_CONFIG: Path to configuration file (default: reactor.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"os"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit hash
	date    = "unknown" // Build timestamp
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
