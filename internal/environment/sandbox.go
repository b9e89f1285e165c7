//go:build linux

package environment

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// guestAgentPort is the vsock port the in-guest command runner listens on.
const guestAgentPort = 52

// guestVsockCID is the context ID assigned to the VM's vsock device; CIDs 0-2 are reserved.
const guestVsockCID = 3

// Sandbox runs commands inside a single Firecracker microVM, booted once for
// the lifetime of the environment and driven over a vsock connection to a
// guest agent that executes shell commands and streams back their output.
// It is the highest-isolation backend: no Docker daemon, no shared kernel.
type Sandbox struct {
	machine    *firecracker.Machine
	socketPath string
	workDir    string
	vsockPath  string
	cwd        string
	timeout    time.Duration
}

// SandboxParams configures VM boot resources beyond what EnvironmentConfig covers.
type SandboxParams struct {
	KernelPath string
	RootFSPath string
	VCPUs      int64
	MemSizeMB  int64
}

// NewSandbox boots a Firecracker microVM and waits for its guest agent to
// become reachable over vsock.
func NewSandbox(ctx context.Context, cfg config.EnvironmentConfig, params SandboxParams) (*Sandbox, error) {
	if params.KernelPath == "" || params.RootFSPath == "" {
		return nil, fmt.Errorf("sandbox environment requires a kernel and rootfs image")
	}

	vmID := uuid.New().String()
	workDir := filepath.Join(os.TempDir(), "mswea-sandbox", vmID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox work dir: %w", err)
	}
	socketPath := filepath.Join(workDir, "api.sock")
	vsockPath := filepath.Join(workDir, "vsock")

	vcpus := params.VCPUs
	if vcpus <= 0 {
		vcpus = 1
	}
	memMB := params.MemSizeMB
	if memMB <= 0 {
		memMB = 512
	}

	firecrackerBin, err := exec.LookPath("firecracker")
	if err != nil {
		return nil, fmt.Errorf("firecracker binary not found: %w", err)
	}

	cmd := firecracker.VMCommandBuilder{}.
		WithBin(firecrackerBin).
		WithSocketPath(socketPath).
		Build(ctx)

	machineConfig := firecracker.Config{
		SocketPath:      socketPath,
		KernelImagePath: params.KernelPath,
		KernelArgs:      "console=ttyS0 reboot=k panic=1 pci=off",
		Drives: []models.Drive{{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(params.RootFSPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		}},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(vcpus),
			MemSizeMib: firecracker.Int64(memMB),
		},
		VsockDevices: []firecracker.VsockDevice{{
			Path: vsockPath,
			CID:  3,
		}},
	}

	machine, err := firecracker.NewMachine(ctx, machineConfig, firecracker.WithProcessRunner(cmd))
	if err != nil {
		return nil, fmt.Errorf("create firecracker machine: %w", err)
	}
	if err := machine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start firecracker machine: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}

	sb := &Sandbox{
		machine:    machine,
		socketPath: socketPath,
		workDir:    workDir,
		vsockPath:  vsockPath,
		cwd:        cwd,
		timeout:    timeout,
	}

	if err := sb.waitForGuestAgent(ctx); err != nil {
		_ = sb.Close()
		return nil, err
	}
	return sb, nil
}

// dialGuest connects to the VM's virtio-vsock device (exposed on the host as
// a Unix socket alongside the Firecracker API socket) and performs the
// CID/port handshake Firecracker's vsock implementation expects.
func (s *Sandbox) dialGuest(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", s.vsockPath)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], guestVsockCID)
	binary.LittleEndian.PutUint32(header[4:8], guestAgentPort)
	if _, err := conn.Write(header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send vsock handshake: %w", err)
	}
	return conn, nil
}

// waitForGuestAgent polls the guest vsock port until the agent answers, or
// the boot grace period elapses.
func (s *Sandbox) waitForGuestAgent(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := s.dialGuest(ctx); err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("guest agent did not come up within boot grace period")
}

// guestRequest and guestResponse are the line-delimited JSON protocol spoken
// over vsock to the in-guest command runner.
type guestRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

type guestResponse struct {
	Output     string `json:"output"`
	ReturnCode int    `json:"return_code"`
}

// Execute sends command to the guest agent and waits for its result.
func (s *Sandbox) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialGuest(execCtx)
	if err != nil {
		return nil, fmt.Errorf("connect to guest agent: %w", err)
	}
	defer conn.Close()

	if deadline, ok := execCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := guestRequest{Command: command, Cwd: s.cwd}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("send command to guest: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Command: command, Timeout: s.timeout}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read guest response: %w", err)
		}
		return nil, fmt.Errorf("guest agent closed connection without a response")
	}

	var resp guestResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode guest response: %w", err)
	}

	return &ExecutionResult{Output: resp.Output, ReturnCode: resp.ReturnCode}, nil
}

// Serialize returns the environment's configuration for trajectory persistence.
func (s *Sandbox) Serialize() map[string]any {
	return map[string]any{
		"backend": "sandbox",
		"cwd":     s.cwd,
	}
}

// Close shuts down the microVM and removes its scratch directory.
func (s *Sandbox) Close() error {
	if s.machine != nil {
		_ = s.machine.StopVMM()
	}
	return os.RemoveAll(s.workDir)
}
