// Package main provides the CLI entry point for the Reactor agent core.
//
// commands.go contains the cobra command definitions and their flag
// configurations. Handler logic lives in handlers.go.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "reactor",
		Short:        "Autonomous agent execution core",
		Long:         "Reactor runs autonomous reasoning loops over LLM providers with tool execution, provider fallback, and session continuity.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// buildRunCmd creates the "run" command that processes one message through
// the agent loop and prints the final answer.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one message through the agent loop",
		Long: `Run one message through the agent loop and print the final answer.

The agent reasons step by step, calling registered tools as needed, until the
task completes or a limit (max steps, max duration) is reached. Progress is
streamed to stderr; the final answer goes to stdout.`,
		Example: `  # Ask a one-off question
  reactor run "what does the error budget look like?"

  # Use a config file and a named session
  reactor run --config reactor.yaml --session triage "what changed since yesterday?"

  # Emit the full execution result as JSON
  reactor run --json "list the failing checks"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = strings.Join(args, " ")
			opts.configPath = resolveConfigPath(opts.configPath)
			return runRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to YAML configuration file (default: reactor.yaml if present)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "",
		"Session ID for conversation continuity (blank starts a new session)")
	cmd.Flags().StringVar(&opts.userID, "user", "cli",
		"User ID attributed to the run")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false,
		"Print the full execution result as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false,
		"Suppress progress output on stderr")

	return cmd
}

// buildVersionCmd creates the "version" command. The root command also
// supports --version; this form prints the long build details.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reactor %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

// resolveConfigPath picks the config file: explicit flag, then the
// REACTOR_CONFIG environment variable, then reactor.yaml if it exists.
// An empty result means run on built-in defaults.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("REACTOR_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("reactor.yaml"); err == nil {
		return "reactor.yaml"
	}
	return ""
}
