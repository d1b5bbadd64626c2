// Package main is the CLI entry point for the itinera travel-planning
// service.
//
// Start the server:
//
//	itinera serve --config itinera.yaml
//
// Configuration can reference environment variables with ${VAR} syntax;
// see the example config for the full schema.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "itinera",
		Short: "Itinera - AI travel planning service",
		Long: `Itinera plans trips with an LLM agent behind a guarded tool layer.

Every tool call is schema-validated, rate limited per traveler, and
cached with tag-based invalidation. Travelers may bring their own
provider keys; otherwise requests route through the OpenRouter gateway.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckConfigCmd(),
	)
	return rootCmd
}
