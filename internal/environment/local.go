package environment

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// Local runs commands as subprocesses of the agent process itself, using the
// same working directory and environment for every step.
type Local struct {
	cwd         string
	env         []string
	timeout     time.Duration
	interpreter string
	maxOutput   int
}

// NewLocal builds a Local environment from configuration, forwarding any
// environment variables named in cfg.ForwardEnv from the current process.
func NewLocal(cfg config.EnvironmentConfig) *Local {
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	for _, name := range cfg.ForwardEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = "/bin/bash"
	}

	return &Local{
		cwd:         cfg.Cwd,
		env:         env,
		timeout:     cfg.Timeout,
		interpreter: interpreter,
		maxOutput:   1024 * 1024,
	}
}

// Execute runs command via the configured interpreter (`bash -c <command>`
// by default), capturing combined stdout+stderr.
func (l *Local) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	timeout := l.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, l.interpreter, "-c", command)
	cmd.Dir = l.cwd
	cmd.Env = l.env

	out := newLimitedWriter(l.maxOutput)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	output := out.String()

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Command: command, Timeout: timeout, Output: output}
	}

	returnCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	return &ExecutionResult{Output: output, ReturnCode: returnCode}, nil
}

// Serialize returns the environment's configuration for trajectory persistence.
func (l *Local) Serialize() map[string]any {
	return map[string]any{
		"backend":     "local",
		"cwd":         l.cwd,
		"interpreter": l.interpreter,
	}
}

// Close is a no-op: a Local environment holds no external resources.
func (l *Local) Close() error {
	return nil
}
