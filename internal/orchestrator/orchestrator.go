// Package orchestrator runs a batch of task instances through the agent
// loop with bounded parallelism, idempotent resume, and a shared
// predictions index safe for concurrent writers.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/trajectorystore"
)

// Instance is one task to run through the agent loop.
type Instance struct {
	ID   string
	Task string
}

// RunnerFunc runs a single instance's agent loop to completion and returns
// its result. Batch wires this to agentloop.Loop.Run with an instance-scoped
// model, environment, and trajectory path.
type RunnerFunc func(ctx context.Context, inst Instance) (*agentloop.Result, error)

// Prediction is one instance's entry in preds.json.
type Prediction struct {
	ModelNameOrPath string `json:"model_name_or_path"`
	InstanceID      string `json:"instance_id"`
	ModelPatch      string `json:"model_patch"`
}

// Batch runs a set of instances with bounded concurrency, writing one
// trajectory file, one preds.json entry, and one exit_statuses.yaml entry
// per instance under a shared mutex.
type Batch struct {
	Cfg    config.OrchestratorConfig
	Run    RunnerFunc
	ModelName string

	mu           sync.Mutex
	preds        map[string]Prediction
	exitStatuses map[string]string
}

// NewBatch constructs a Batch ready to process instances.
func NewBatch(cfg config.OrchestratorConfig, modelName string, run RunnerFunc) *Batch {
	return &Batch{
		Cfg:          cfg,
		Run:          run,
		ModelName:    modelName,
		preds:        map[string]Prediction{},
		exitStatuses: map[string]string{},
	}
}

// Execute processes every instance, skipping ones that already have a
// well-formed trajectory unless Cfg.Redo is set, respecting ctx cancellation
// cooperatively (in-flight instances finish their current step; no new
// instance starts once ctx is done).
func (b *Batch) Execute(ctx context.Context, instances []Instance) error {
	workers := b.Cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		inst := inst
		trajPath := b.trajectoryPath(inst.ID)

		if !b.Cfg.Redo && trajectorystore.IsWellFormed(trajPath) {
			// A prior run already finished this instance (or a resume is in
			// progress): carry its recorded outcome forward into this run's
			// index instead of dropping it, so a resumed batch's preds.json
			// still has one entry per instance, not just the ones rerun.
			b.recordFromExistingTrajectory(inst, trajPath)
			continue
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)
			return b.runOne(gctx, inst, trajPath)
		})
	}

	return g.Wait()
}

// recordFromExistingTrajectory seeds the preds/exit-status index for an
// instance the caller is skipping on resume, reading its outcome back out
// of the trajectory file saved by an earlier run.
func (b *Batch) recordFromExistingTrajectory(inst Instance, trajPath string) {
	status := "Error"
	submission := ""
	if traj, err := trajectorystore.Load(trajPath); err == nil {
		if traj.Info.ExitStatus != nil {
			status = *traj.Info.ExitStatus
		}
		if traj.Info.Submission != nil {
			submission = *traj.Info.Submission
		}
	}
	b.record(inst.ID, status, submission)
}

func (b *Batch) runOne(ctx context.Context, inst Instance, trajPath string) error {
	result, err := b.Run(ctx, inst)

	status := "Error"
	submission := ""
	if result != nil {
		status = result.ExitStatus
		submission = result.Submission
	}
	b.record(inst.ID, status, submission)
	_ = trajPath

	if err != nil {
		// A failed instance does not abort the batch: it is recorded as
		// failed and the rest of the batch continues, matching a run
		// across many independent task instances.
		return nil
	}
	return nil
}

// record updates this instance's entry in both indexes and flushes both
// files to disk under the shared mutex, so the index on disk always
// reflects every instance that has finished so far rather than only the
// ones still in memory when the batch ends or is killed.
func (b *Batch) record(instanceID, status, submission string) {
	b.mu.Lock()
	b.exitStatuses[instanceID] = status
	b.preds[instanceID] = Prediction{ModelNameOrPath: b.ModelName, InstanceID: instanceID, ModelPatch: submission}
	b.mu.Unlock()

	if err := b.writePreds(); err != nil {
		fmt.Println("warning: failed to write preds.json:", err)
	}
	if err := b.writeExitStatuses(); err != nil {
		fmt.Println("warning: failed to write exit_statuses.yaml:", err)
	}
}

func (b *Batch) trajectoryPath(instanceID string) string {
	return filepath.Join(b.Cfg.OutputDir, instanceID+".traj.json")
}

func (b *Batch) writePreds() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Join(b.Cfg.OutputDir, b.Cfg.PredsFilename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(b.preds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling preds: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *Batch) writeExitStatuses() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Join(b.Cfg.OutputDir, "exit_statuses.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := yaml.Marshal(b.exitStatuses)
	if err != nil {
		return fmt.Errorf("marshaling exit statuses: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
