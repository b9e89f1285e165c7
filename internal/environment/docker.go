package environment

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// Docker runs commands inside a single long-lived container, created once
// and reused for every step so state (installed packages, written files,
// shell cwd via `cd`) persists across the run the way a human's terminal
// session would. Commands are dispatched with `docker exec`, not `docker run`.
type Docker struct {
	containerID string
	cwd         string
	timeout     time.Duration
	maxOutput   int
}

// NewDocker starts a container from cfg.Image and returns a Docker
// environment bound to it. The container is created with no network access
// and a background idle command so it stays alive between steps.
func NewDocker(ctx context.Context, cfg config.EnvironmentConfig) (*Docker, error) {
	image := cfg.Image
	if image == "" {
		return nil, fmt.Errorf("docker environment requires environment.image to be set")
	}

	createCtx, cancel := context.WithTimeout(ctx, cfg.ContainerTimeout)
	defer cancel()

	args := []string{"create", "--network", "none"}
	args = append(args, cfg.RunArgs...)
	for k, v := range cfg.Env {
		args = append(args, "-e", k+"="+v)
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	args = append(args, "-w", cwd, image, "sleep", "infinity")

	var out, stderr strings.Builder
	cmd := exec.CommandContext(createCtx, "docker", args...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker create: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	containerID := strings.TrimSpace(out.String())
	if containerID == "" {
		return nil, fmt.Errorf("docker create returned empty container id")
	}

	startCmd := exec.CommandContext(createCtx, "docker", "start", containerID)
	if err := startCmd.Run(); err != nil {
		_ = exec.Command("docker", "rm", "-f", containerID).Run()
		return nil, fmt.Errorf("docker start: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Docker{containerID: containerID, cwd: cwd, timeout: timeout, maxOutput: 1024 * 1024}, nil
}

// Execute runs command inside the container via `docker exec bash -c`.
func (d *Docker) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{"exec", "-w", d.cwd, d.containerID, "bash", "-c", command}
	cmd := exec.CommandContext(execCtx, "docker", args...)

	out := newLimitedWriter(d.maxOutput)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	output := out.String()

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Command: command, Timeout: d.timeout, Output: output}
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
func (d *Docker) Serialize() map[string]any {
	return map[string]any{
		"backend":      "docker",
		"container_id": d.containerID,
		"cwd":          d.cwd,
	}
}

// Close stops and removes the container.
func (d *Docker) Close() error {
	return exec.Command("docker", "rm", "-f", d.containerID).Run()
}
