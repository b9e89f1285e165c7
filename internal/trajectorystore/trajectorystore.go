// Package trajectorystore persists a completed or in-progress run as a v1
// trajectory file: a deep merge of the agent, model, and environment's own
// serialized views, written atomically so a crash mid-write never corrupts
// the previous save.
package trajectorystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
)

// TrajectoryFormat is the version stamp every trajectory file carries.
const TrajectoryFormat = "mini-swe-agent-1"

// MiniVersion is this module's own semver, stamped into every trajectory's
// info block the same way mini-swe-agent stamps its Python package version.
const MiniVersion = "1.0.0"

// ModelStats is the cost/call summary embedded in a trajectory's info block.
type ModelStats struct {
	InstanceCost float64 `json:"instance_cost"`
	APICalls     int     `json:"api_calls"`
}

// Info is the trajectory's info block: configuration snapshots from each
// component plus the run's terminal outcome.
type Info struct {
	Config      map[string]any `json:"config"`
	MiniVersion string         `json:"mini_version"`
	ExitStatus  *string        `json:"exit_status"`
	Submission  *string        `json:"submission"`
	Traceback   string         `json:"traceback,omitempty"`
	ModelStats  ModelStats     `json:"model_stats"`
}

// Trajectory is the full on-disk document for one task instance.
type Trajectory struct {
	Info             Info                 `json:"info"`
	Messages         agentloop.MessageLog `json:"messages"`
	TrajectoryFormat string               `json:"trajectory_format"`
}

// Build assembles a Trajectory from the agent/model/environment serialized
// views and the agent loop's result, matching mini-swe-agent's save(): a
// deep merge where deeper values win over shallower ones on key collision.
func Build(agentConfig, modelConfig, environmentConfig map[string]any, agentType, modelType, environmentType string, result *agentloop.Result, instanceCost float64, apiCalls int) *Trajectory {
	config := map[string]any{
		"agent":            agentConfig,
		"model":            modelConfig,
		"environment":      environmentConfig,
		"agent_type":       agentType,
		"model_type":       modelType,
		"environment_type": environmentType,
	}

	var exitStatus, submission *string
	if result != nil {
		if result.ExitStatus != "" {
			status := result.ExitStatus
			exitStatus = &status
		}
		if result.ExitStatus == "Submitted" {
			sub := result.Submission
			submission = &sub
		}
	}

	traceback := ""
	var messages agentloop.MessageLog
	if result != nil {
		traceback = result.Traceback
		messages = result.Log
	}

	return &Trajectory{
		Info: Info{
			Config:      config,
			MiniVersion: MiniVersion,
			ExitStatus:  exitStatus,
			Submission:  submission,
			Traceback:   traceback,
			ModelStats:  ModelStats{InstanceCost: instanceCost, APICalls: apiCalls},
		},
		Messages:         messages,
		TrajectoryFormat: TrajectoryFormat,
	}
}

// Save writes t to path as pretty-printed JSON, creating parent directories
// and writing to a temp file first so a concurrent reader never observes a
// partially-written trajectory.
func Save(path string, t *Trajectory) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating trajectory directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling trajectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".trajectory-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp trajectory file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp trajectory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp trajectory file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp trajectory file: %w", err)
	}
	return nil
}

// Load reads a trajectory file from disk and reports whether it is
// well-formed JSON, used by batch resume to decide whether an existing
// trajectory can be trusted or must be redone.
func Load(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Trajectory
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing trajectory %s: %w", path, err)
	}
	return &t, nil
}

// IsWellFormed reports whether a trajectory file at path exists and parses,
// used by batch resume's skip-existing check.
func IsWellFormed(path string) bool {
	_, err := Load(path)
	return err == nil
}

// DeepMerge merges src into dst recursively: nested maps merge key by key,
// and any other value in src overwrites the corresponding value in dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = DeepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
