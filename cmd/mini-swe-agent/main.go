// Package main provides the CLI entry point for mini-swe-agent: a minimal
// LM-driven shell-command runner.
//
// # Basic Usage
//
// Run a single task:
//
//	mini-swe-agent run --config mini.yaml --task "fix the failing test"
//
// Run a whole batch of task instances:
//
//	mini-swe-agent batch --config mini.yaml --instances instances.json
//
// Run with a human approving every command:
//
//	mini-swe-agent interactive --config mini.yaml --task "refactor the parser" --mode human
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/observability"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var metricsServerOnce sync.Once

// maybeServeMetrics starts the Prometheus /metrics endpoint the first time
// it's called with an enabled config; later calls (one per batch instance)
// are no-ops, since the endpoint is process-wide, not per-instance.
func maybeServeMetrics(ctx context.Context, cfg *config.Config) {
	if !cfg.Observability.Metrics.Enabled {
		return
	}
	metricsServerOnce.Do(func() {
		observability.ServeMetrics(ctx, cfg.Observability.Metrics.Addr)
	})
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mini-swe-agent",
		Short: "A minimal LM-driven shell-command agent",
		Long: `mini-swe-agent drives a language model through a think/act/observe loop:
each step asks the model for exactly one shell command, runs it in a
sandboxed environment, and feeds the result back, until the model submits,
a step or cost limit is hit, or an unrecoverable error occurs.`,
	}

	cmd.AddCommand(buildRunCmd(), buildBatchCmd(), buildInteractiveCmd())
	return cmd
}
