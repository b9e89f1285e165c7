package main

import (
	"context"
	"fmt"

	"github.com/mini-swe-agent/mini-swe-agent/internal/agentloop"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/environment"
	"github.com/mini-swe-agent/mini-swe-agent/internal/memory"
	"github.com/mini-swe-agent/mini-swe-agent/internal/model"
	"github.com/mini-swe-agent/mini-swe-agent/internal/observability"
	"github.com/mini-swe-agent/mini-swe-agent/internal/templates"
)

// runtime bundles everything an agent loop needs, built fresh for each task
// instance so backends (a container, a VM) are never shared across runs.
type runtime struct {
	cfg    *config.Config
	env    environment.Environment
	loop   *agentloop.Loop
	stats  *model.Stats
	memory *memory.Recorder
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	stats := model.NewStats(cfg.Model.Costs)

	client, err := model.New(cfg.Model, cfg.Agent.ActionDialect, stats)
	if err != nil {
		return nil, fmt.Errorf("building model client: %w", err)
	}

	var dialect model.Dialect
	switch cfg.Agent.ActionDialect {
	case "toolcall":
		dialect = model.ToolCallDialect{}
	default:
		dialect = model.FencedDialect{AllowLegacyBashFence: cfg.Agent.AllowLegacyBashFence}
	}

	env, err := environment.New(ctx, cfg.Environment, environment.SandboxParams{})
	if err != nil {
		return nil, fmt.Errorf("building environment: %w", err)
	}

	loop := agentloop.New(client, dialect, env, templates.NewEngine(), cfg.Agent, stats)

	if cfg.Observability.Metrics.Enabled {
		loop.Metrics = observability.Shared()
	}
	if cfg.Observability.Tracing.Enabled {
		tracer, _ := observability.SharedTracer(observability.TraceConfig{
			ServiceName:  cfg.Observability.Tracing.ServiceName,
			Endpoint:     cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SamplingRate,
		})
		loop.Tracer = tracer
	}

	mgr, err := memory.NewManager(&cfg.Memory.Manager)
	if err != nil {
		return nil, fmt.Errorf("building memory manager: %w", err)
	}
	rec := memory.NewRecorder(mgr, cfg.Memory.Capture, cfg.Memory.Recall, nil)

	return &runtime{cfg: cfg, env: env, loop: loop, stats: stats, memory: rec}, nil
}

func (r *runtime) Close() error {
	if err := r.memory.Close(); err != nil {
		return err
	}
	return r.env.Close()
}
