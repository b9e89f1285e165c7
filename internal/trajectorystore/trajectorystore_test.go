package trajectorystore

import (
	"path/filepath"
	"testing"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
)

func TestBuild_Submitted(t *testing.T) {
	result := &agentloop.Result{
		ExitStatus: "Submitted",
		Submission: "done\n",
		Log:        agentloop.MessageLog{{Kind: agentloop.KindExit, Role: "system", Content: "Submitted"}},
		StepCount:  1,
	}
	traj := Build(map[string]any{"step_limit": 10}, map[string]any{"model_name": "fake"}, map[string]any{"backend": "local"}, "agentloop.Loop", "model.Client", "environment.Local", result, 0.02, 1)

	if traj.TrajectoryFormat != TrajectoryFormat {
		t.Errorf("trajectory_format = %q", traj.TrajectoryFormat)
	}
	if traj.Info.ExitStatus == nil || *traj.Info.ExitStatus != "Submitted" {
		t.Errorf("exit_status = %v, want Submitted", traj.Info.ExitStatus)
	}
	if traj.Info.Submission == nil || *traj.Info.Submission != "done\n" {
		t.Errorf("submission = %v, want done\\n", traj.Info.Submission)
	}
	if traj.Info.ModelStats.APICalls != 1 || traj.Info.ModelStats.InstanceCost != 0.02 {
		t.Errorf("unexpected model_stats: %+v", traj.Info.ModelStats)
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "instance-1.traj.json")

	result := &agentloop.Result{ExitStatus: "LimitsExceeded", Log: agentloop.MessageLog{}}
	traj := Build(map[string]any{}, map[string]any{}, map[string]any{}, "a", "m", "e", result, 1.5, 3)

	if err := Save(path, traj); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !IsWellFormed(path) {
		t.Fatal("expected saved trajectory to be well-formed")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TrajectoryFormat != TrajectoryFormat {
		t.Errorf("trajectory_format mismatch after round trip")
	}
	if loaded.Info.ExitStatus == nil || *loaded.Info.ExitStatus != "LimitsExceeded" {
		t.Errorf("exit_status mismatch after round trip: %v", loaded.Info.ExitStatus)
	}
}

func TestDeepMerge_NestedMapsMergeRecursively(t *testing.T) {
	dst := map[string]any{
		"agent": map[string]any{"step_limit": 10},
		"top":   "dst",
	}
	src := map[string]any{
		"agent": map[string]any{"cost_limit": 3.0},
		"top":   "src",
	}
	merged := DeepMerge(dst, src)

	agent, ok := merged["agent"].(map[string]any)
	if !ok {
		t.Fatalf("agent is not a map: %v", merged["agent"])
	}
	if agent["step_limit"] != 10 || agent["cost_limit"] != 3.0 {
		t.Errorf("nested merge incomplete: %+v", agent)
	}
	if merged["top"] != "src" {
		t.Errorf("top-level collision should let src win, got %v", merged["top"])
	}
}

func TestIsWellFormed_MissingFile(t *testing.T) {
	if IsWellFormed(filepath.Join(t.TempDir(), "does-not-exist.json")) {
		t.Error("expected missing file to be reported as not well-formed")
	}
}
