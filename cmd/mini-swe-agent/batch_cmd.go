package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/orchestrator"
	"github.com/mini-swe-agent/mini-swe-agent/internal/trajectorystore"
)

func buildBatchCmd() *cobra.Command {
	var (
		configPath    string
		instancesPath string
		outputDir     string
		redo          bool
		every         string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every instance in a batch file through the agent loop",
		Example: `  # Run a batch, skipping instances with an existing trajectory
  mini-swe-agent batch --config mini.yaml --instances instances.json

  # Rerun every instance on a schedule
  mini-swe-agent batch --config mini.yaml --instances instances.json --every "@hourly"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Orchestrator.OutputDir = outputDir
			}
			if redo {
				cfg.Orchestrator.Redo = true
			}

			maybeServeMetrics(cmd.Context(), cfg)

			instances, err := loadInstances(instancesPath)
			if err != nil {
				return err
			}

			runBatch := func(ctx context.Context) error {
				batch := orchestrator.NewBatch(cfg.Orchestrator, cfg.Model.ModelName, func(ctx context.Context, inst orchestrator.Instance) (*agentloop.Result, error) {
					return runInstance(ctx, cfg, inst)
				})
				return batch.Execute(ctx, instances)
			}

			if every == "" {
				return runBatch(cmd.Context())
			}

			scheduler := &orchestrator.Scheduler{Every: every, Logger: slog.Default()}
			return scheduler.Run(cmd.Context(), runBatch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mini.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&instancesPath, "instances", "i", "", "Path to a JSON array of {id, task} instances")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for trajectory files, preds.json, and exit_statuses.yaml")
	cmd.Flags().BoolVar(&redo, "redo", false, "Rerun instances even if a well-formed trajectory already exists")
	cmd.Flags().StringVar(&every, "every", "", "Cron expression to rerun the whole batch on a schedule")
	cmd.MarkFlagRequired("instances")

	return cmd
}

func loadInstances(path string) ([]orchestrator.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instances file: %w", err)
	}
	var raw []struct {
		ID   string `json:"id"`
		Task string `json:"task"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing instances file: %w", err)
	}
	instances := make([]orchestrator.Instance, len(raw))
	for i, r := range raw {
		instances[i] = orchestrator.Instance{ID: r.ID, Task: r.Task}
	}
	return instances, nil
}

func runInstance(ctx context.Context, cfg *config.Config, inst orchestrator.Instance) (*agentloop.Result, error) {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	trajPath := filepath.Join(cfg.Orchestrator.OutputDir, inst.ID+".traj.json")
	save := func(log agentloop.MessageLog) {
		writeTrajectoryFor(rt, cfg, trajPath, &agentloop.Result{Log: log})
	}

	agentID := cfg.Model.ModelName
	task := inst.Task
	if recalled := rt.memory.Recall(ctx, inst.ID, agentID, task); recalled != "" {
		task = recalled + "\n\n" + task
	}

	if rt.loop.Metrics != nil {
		rt.loop.Metrics.RunStarted("batch")
	}
	runStart := time.Now()
	result, runErr := rt.loop.Run(ctx, task, save)
	if rt.loop.Metrics != nil {
		attemptStatus := "success"
		if runErr != nil {
			attemptStatus = "failed"
		}
		exitStatus := ""
		if result != nil {
			exitStatus = result.ExitStatus
		}
		rt.loop.Metrics.RunEnded("batch", exitStatus, attemptStatus, time.Since(runStart).Seconds())
		if _, _, costUSD := rt.stats.Snapshot(); costUSD > 0 {
			rt.loop.Metrics.RecordLLMCost(cfg.Model.Provider, cfg.Model.ModelName, costUSD)
		}
	}
	if result != nil {
		writeTrajectoryFor(rt, cfg, trajPath, result)
		rt.memory.Capture(ctx, inst.ID, agentID, toMemoryLog(result.Log))
	}
	return result, runErr
}

func writeTrajectoryFor(rt *runtime, cfg *config.Config, path string, result *agentloop.Result) {
	calls, _, costUSD := rt.stats.Snapshot()
	traj := trajectorystore.Build(
		map[string]any{"step_limit": cfg.Agent.StepLimit, "cost_limit": cfg.Agent.CostLimit, "action_dialect": cfg.Agent.ActionDialect},
		map[string]any{"model_name": cfg.Model.ModelName, "provider": cfg.Model.Provider},
		rt.env.Serialize(),
		"agentloop.Loop", "model.Client", fmt.Sprintf("environment.%s", cfg.Environment.Backend),
		result, costUSD, calls,
	)
	if err := trajectorystore.Save(path, traj); err != nil {
		fmt.Println("warning: failed to save trajectory for", path, ":", err)
	}
}
