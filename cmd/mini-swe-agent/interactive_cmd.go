package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/interactive"
)

func buildInteractiveCmd() *cobra.Command {
	var (
		configPath string
		task       string
		outputPath string
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Run a task with a human approving every proposed command",
		Example: `  # Approve every command by hand
  mini-swe-agent interactive --config mini.yaml --task "refactor the parser"

  # Approve once per step, falling back to yolo after the operator types /y
  mini-swe-agent interactive --config mini.yaml --task "..." --mode confirm`,
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

			session := interactive.NewSession(interactive.Mode(mode), os.Stdin, os.Stdout)
			rt.loop.Env = &interactive.ConfirmedEnvironment{Environment: rt.env, Session: session}

			instanceID := outputPath
			agentID := cfg.Model.ModelName
			if recalled := rt.memory.Recall(cmd.Context(), instanceID, agentID, task); recalled != "" {
				task = recalled + "\n\n" + task
			}

			save := func(log agentloop.MessageLog) {
				writeTrajectory(rt, task, &agentloop.Result{Log: log}, outputPath)
			}

			if rt.loop.Metrics != nil {
				rt.loop.Metrics.RunStarted("interactive")
			}
			runStart := time.Now()
			result, runErr := rt.loop.Run(cmd.Context(), task, save)
			if rt.loop.Metrics != nil {
				attemptStatus := "success"
				if runErr != nil {
					attemptStatus = "failed"
				}
				rt.loop.Metrics.RunEnded("interactive", result.ExitStatus, attemptStatus, time.Since(runStart).Seconds())
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
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the trajectory file")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(interactive.ModeHuman), "Confirmation mode: human, confirm, or yolo")
	cmd.MarkFlagRequired("task")

	return cmd
}
