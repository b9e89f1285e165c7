//go:build !linux

package environment

import (
	"context"
	"errors"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// ErrNotSupported is returned when the sandbox backend is requested on a
// platform Firecracker does not run on.
var ErrNotSupported = errors.New("the sandbox backend requires Linux and KVM")

// Sandbox is a non-functional stand-in on platforms without Firecracker support.
type Sandbox struct{}

// SandboxParams mirrors the Linux build's configuration surface.
type SandboxParams struct {
	KernelPath string
	RootFSPath string
	VCPUs      int64
	MemSizeMB  int64
}

// NewSandbox always fails on non-Linux platforms.
func NewSandbox(ctx context.Context, cfg config.EnvironmentConfig, params SandboxParams) (*Sandbox, error) {
	return nil, ErrNotSupported
}

func (s *Sandbox) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	return nil, ErrNotSupported
}

func (s *Sandbox) Serialize() map[string]any {
	return map[string]any{"backend": "sandbox"}
}

func (s *Sandbox) Close() error {
	return nil
}
