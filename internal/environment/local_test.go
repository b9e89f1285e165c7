package environment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

func TestLocal_Execute_Success(t *testing.T) {
	env := NewLocal(config.EnvironmentConfig{Timeout: 5 * time.Second})
	res, err := env.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("output = %q, want %q", res.Output, "hello")
	}
	if res.ReturnCode != 0 {
		t.Errorf("return code = %d, want 0", res.ReturnCode)
	}
}

func TestLocal_Execute_NonZeroExit(t *testing.T) {
	env := NewLocal(config.EnvironmentConfig{Timeout: 5 * time.Second})
	res, err := env.Execute(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ReturnCode != 3 {
		t.Errorf("return code = %d, want 3", res.ReturnCode)
	}
}

func TestLocal_Execute_Timeout(t *testing.T) {
	env := NewLocal(config.EnvironmentConfig{Timeout: 100 * time.Millisecond})
	_, err := env.Execute(context.Background(), "sleep 2")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout) to hold")
	}
}

func TestLocal_Execute_Cwd(t *testing.T) {
	env := NewLocal(config.EnvironmentConfig{Timeout: 5 * time.Second, Cwd: "/tmp"})
	res, err := env.Execute(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Output) != "/tmp" {
		t.Errorf("pwd = %q, want /tmp", res.Output)
	}
}

func TestLocal_Serialize(t *testing.T) {
	env := NewLocal(config.EnvironmentConfig{Cwd: "/workspace", Interpreter: "/bin/sh"})
	m := env.Serialize()
	if m["backend"] != "local" || m["cwd"] != "/workspace" || m["interpreter"] != "/bin/sh" {
		t.Errorf("unexpected serialization: %+v", m)
	}
}

func TestLimitedWriter_TruncatesOutput(t *testing.T) {
	w := newLimitedWriter(5)
	_, _ = w.Write([]byte("abcdefghij"))
	if w.String() != "abcde" {
		t.Errorf("got %q, want %q", w.String(), "abcde")
	}
}
