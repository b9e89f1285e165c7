package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/environment"
	"github.com/mini-swe-agent/mini-swe-agent/internal/model"
	"github.com/mini-swe-agent/mini-swe-agent/internal/templates"
)

// scriptedEnv executes a fixed sequence of canned results, one per call,
// ignoring the actual command text.
type scriptedEnv struct {
	results []envStep
	calls   int
}

type envStep struct {
	output     string
	returnCode int
	timeout    bool
}

func (e *scriptedEnv) Execute(ctx context.Context, command string) (*environment.ExecutionResult, error) {
	step := e.results[e.calls]
	e.calls++
	if step.timeout {
		return nil, &environment.TimeoutError{Command: command, Output: step.output}
	}
	return &environment.ExecutionResult{Output: step.output, ReturnCode: step.returnCode}, nil
}

func (e *scriptedEnv) Serialize() map[string]any { return map[string]any{"backend": "fake"} }
func (e *scriptedEnv) Close() error              { return nil }

// scriptedModel returns one canned assistant response per call, ignoring
// the conversation it is given.
func scriptedModel(responses ...string) *model.Client {
	i := 0
	return model.NewClient("fake", "fake-model", func(ctx context.Context, messages []model.Message) (*model.Response, error) {
		if i >= len(responses) {
			return nil, errors.New("scriptedModel: ran out of responses")
		}
		content := responses[i]
		i++
		return &model.Response{Content: content}, nil
	})
}

func newTestLoop(client *model.Client, env environment.Environment) *Loop {
	return New(client, model.FencedDialect{}, env, templates.NewEngine(), config.AgentConfig{
		SystemTemplate:   "Task: {{.task}}",
		InstanceTemplate: "Begin.",
		StepLimit:        10,
		CostLimit:        3.0,
	}, model.NewStats(nil))
}

func fenced(cmd string) string {
	return "```mswea_bash_command\n" + cmd + "\n```"
}

// Scenario 1: happy path — a single action submits immediately.
func TestRun_HappyPath_Submits(t *testing.T) {
	env := &scriptedEnv{results: []envStep{
		{output: "hello\nCOMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\n", returnCode: 0},
	}}
	loop := newTestLoop(scriptedModel(fenced("echo hello; echo COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT")), env)

	result, err := loop.Run(context.Background(), "say hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitStatus != "Submitted" {
		t.Errorf("exit status = %q, want Submitted", result.ExitStatus)
	}
	if result.Submission != "hello\n" {
		t.Errorf("submission = %q, want %q", result.Submission, "hello\n")
	}
}

// Scenario 2: a malformed response (no fenced action) recovers as a
// non-terminating FormatError and the run continues to completion.
func TestRun_FormatErrorRecovers(t *testing.T) {
	env := &scriptedEnv{results: []envStep{
		{output: "ok\nCOMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\n", returnCode: 0},
	}}
	loop := newTestLoop(scriptedModel(
		"I am thinking but forgot to fence a command",
		fenced("echo ok; echo COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT"),
	), env)

	result, err := loop.Run(context.Background(), "do something", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitStatus != "Submitted" {
		t.Errorf("exit status = %q, want Submitted", result.ExitStatus)
	}
	foundRecovery := false
	for _, m := range result.Log {
		if m.Kind == KindFormatError {
			foundRecovery = true
		}
	}
	if !foundRecovery {
		t.Error("expected a format_error message in the log")
	}
}

// Scenario 3: a command that times out recovers as a non-terminating
// observation (sentinel appearing before the timed-out step, as well as
// after, per the worked example: the sentinel can appear on any line).
func TestRun_TimeoutRecovers(t *testing.T) {
	env := &scriptedEnv{results: []envStep{
		{timeout: true, output: "partial"},
		{output: "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\nok\n", returnCode: 0},
	}}
	loop := newTestLoop(scriptedModel(
		fenced("sleep 5"),
		fenced("echo COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT; echo ok"),
	), env)

	result, err := loop.Run(context.Background(), "slow task", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitStatus != "Submitted" {
		t.Errorf("exit status = %q, want Submitted", result.ExitStatus)
	}
	if result.Submission != "ok\n" {
		t.Errorf("submission = %q, want %q", result.Submission, "ok\n")
	}
	foundTimeout := false
	for _, m := range result.Log {
		if m.Kind == KindTimeoutObservation {
			foundTimeout = true
		}
	}
	if !foundTimeout {
		t.Error("expected a timeout_observation message in the log")
	}
}

// Scenario 4: exceeding the step limit terminates the run with LimitsExceeded.
func TestRun_StepLimitExceeded(t *testing.T) {
	env := &scriptedEnv{results: []envStep{
		{output: "1", returnCode: 0},
		{output: "2", returnCode: 0},
	}}
	loop := New(scriptedModel(fenced("echo 1"), fenced("echo 2")), model.FencedDialect{}, env, templates.NewEngine(), config.AgentConfig{
		SystemTemplate:   "Task: {{.task}}",
		InstanceTemplate: "Begin.",
		StepLimit:        1,
		CostLimit:        3.0,
	}, model.NewStats(nil))

	result, err := loop.Run(context.Background(), "count forever", nil)
	var limits *LimitsExceededError
	if !errors.As(err, &limits) {
		t.Fatalf("expected *LimitsExceededError, got %v", err)
	}
	if result.ExitStatus != "LimitsExceeded" {
		t.Errorf("exit status = %q, want LimitsExceeded", result.ExitStatus)
	}
}

// detectSubmission is exercised directly to pin the "remainder of the
// output" contract independent of the full loop.
func TestDetectSubmission(t *testing.T) {
	cases := []struct {
		name       string
		output     string
		returnCode int
		wantOK     bool
		wantSub    string
	}{
		{"sentinel last line", "done\nCOMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\n", 0, true, "done\n"},
		{"sentinel first line", "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\nok\n", 0, true, "ok\n"},
		{"no sentinel", "just output\n", 0, false, ""},
		{"sentinel but nonzero exit", "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT\n", 1, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub, ok := detectSubmission(tc.output, tc.returnCode)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && sub != tc.wantSub {
				t.Errorf("submission = %q, want %q", sub, tc.wantSub)
			}
		})
	}
}
