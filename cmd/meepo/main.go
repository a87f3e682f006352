// Command meepo is the CLI entry point for the personal assistant
// runtime: it loads configuration, wires the knowledge store, session
// manager, tool registry, guardrail pipeline, rate limiter, message
// bus, watcher scheduler and agent loop into one AppContext, and drives
// the bus's consumer loop until a shutdown signal arrives.
//
// Start the runtime:
//
//	meepo serve --config meepo.yaml
//
// Check system health:
//
//	meepo doctor --config meepo.yaml
//
// List installed skill packages:
//
//	meepo skills list
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meepo",
		Short: "meepo - personal assistant runtime",
		Long: `meepo drives a tool-using language-model agent loop over pluggable
channel adapters, schedules autonomous watchers, and persists what it
learns in a searchable knowledge store.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildSkillsCmd(),
	)

	return rootCmd
}
