package environment

import (
	"context"
	"fmt"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// New constructs the Environment named by cfg.Backend ("local", "docker", or
// "sandbox"). sandboxParams is only consulted for the "sandbox" backend.
func New(ctx context.Context, cfg config.EnvironmentConfig, sandboxParams SandboxParams) (Environment, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg), nil
	case "docker":
		return NewDocker(ctx, cfg)
	case "sandbox":
		return NewSandbox(ctx, cfg, sandboxParams)
	default:
		return nil, fmt.Errorf("unknown environment backend %q", cfg.Backend)
	}
}
