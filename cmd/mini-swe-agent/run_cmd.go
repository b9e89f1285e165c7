package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/memory"
	"github.com/mini-swe-agent/mini-swe-agent/internal/trajectorystore"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		task       string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task through the agent loop",
		Example: `  # Run a task against the default config
  mini-swe-agent run --config mini.yaml --task "fix the failing test"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if outputPath == "" {
				outputPath = cfg.Agent.OutputPath
			}
			if outputPath == "" {
				outputPath = "trajectory.json"
			}

			maybeServeMetrics(cmd.Context(), cfg)

			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			instanceID := outputPath
			agentID := cfg.Model.ModelName
			if recalled := rt.memory.Recall(cmd.Context(), instanceID, agentID, task); recalled != "" {
				task = recalled + "\n\n" + task
			}

			var lastLog agentloop.MessageLog
			save := func(log agentloop.MessageLog) {
				lastLog = log
				writeTrajectory(rt, task, &agentloop.Result{Log: log}, outputPath)
			}

			if rt.loop.Metrics != nil {
				rt.loop.Metrics.RunStarted("run")
			}
			runStart := time.Now()
			result, runErr := rt.loop.Run(cmd.Context(), task, save)
			if result == nil {
				result = &agentloop.Result{Log: lastLog}
			}
			if rt.loop.Metrics != nil {
				attemptStatus := "success"
				if runErr != nil {
					attemptStatus = "failed"
				}
				rt.loop.Metrics.RunEnded("run", result.ExitStatus, attemptStatus, time.Since(runStart).Seconds())
				if _, _, costUSD := rt.stats.Snapshot(); costUSD > 0 {
					rt.loop.Metrics.RecordLLMCost(cfg.Model.Provider, cfg.Model.ModelName, costUSD)
				}
			}
			writeTrajectory(rt, task, result, outputPath)
			rt.memory.Capture(cmd.Context(), instanceID, agentID, toMemoryLog(result.Log))

			fmt.Printf("exit_status: %s\n", result.ExitStatus)
			if result.ExitStatus == "Submitted" {
				fmt.Printf("submission:\n%s\n", result.Submission)
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mini.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&task, "task", "t", "", "The task description to hand the agent")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the trajectory file (defaults to agent.output_path)")
	cmd.MarkFlagRequired("task")

	return cmd
}

// writeTrajectory saves the current run state; a save error is logged to
// stderr rather than aborting the run, since losing the trajectory file
// should never take down an otherwise-successful agent step.
func writeTrajectory(rt *runtime, task string, result *agentloop.Result, path string) {
	calls, _, costUSD := rt.stats.Snapshot()

	traj := trajectorystore.Build(
		map[string]any{"step_limit": rt.cfg.Agent.StepLimit, "cost_limit": rt.cfg.Agent.CostLimit, "action_dialect": rt.cfg.Agent.ActionDialect},
		map[string]any{"model_name": rt.cfg.Model.ModelName, "provider": rt.cfg.Model.Provider},
		rt.env.Serialize(),
		"agentloop.Loop", "model.Client", fmt.Sprintf("environment.%s", rt.cfg.Environment.Backend),
		result, costUSD, calls,
	)
	if err := trajectorystore.Save(path, traj); err != nil {
		fmt.Println("warning: failed to save trajectory:", err)
	}
}

// toMemoryLog strips an agentloop.MessageLog down to the role/content pairs
// internal/memory's auto-capture scans, keeping that package free of a
// dependency on internal/agentloop.
func toMemoryLog(log agentloop.MessageLog) []memory.LogEntry {
	entries := make([]memory.LogEntry, len(log))
	for i, m := range log {
		entries[i] = memory.LogEntry{Role: m.Role, Content: m.Content}
	}
	return entries
}
