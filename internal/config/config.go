// Package config loads and validates mini-swe-agent's YAML configuration,
// resolving $include directives and environment variable expansion before
// decoding into the typed structs below.
package config

import (
	"fmt"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/memory"
	"github.com/mini-swe-agent/mini-swe-agent/internal/usage"
)

// Config is the root configuration document for a mini-swe-agent run.
type Config struct {
	Version      int                `yaml:"version"`
	Agent        AgentConfig        `yaml:"agent"`
	Model        ModelConfig        `yaml:"model"`
	Environment  EnvironmentConfig  `yaml:"environment"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	// Memory configures the optional semantic memory subsystem; entirely
	// off (Memory.Enabled == false) unless a config turns it on.
	Memory MemoryConfig `yaml:"memory"`
	// Observability configures metrics export and distributed tracing.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig controls optional metrics/tracing export. Both are
// off by default; logging is always on and is not config-gated.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// DefaultObservabilityConfig returns the observability defaults used when a config omits them.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Metrics: MetricsConfig{Addr: ":9090"},
		Tracing: TracingConfig{ServiceName: "mini-swe-agent", SamplingRate: 1.0},
	}
}

// MemoryConfig wires internal/memory's manager and auto-capture/recall
// behavior into a run. Off by default.
type MemoryConfig struct {
	Manager memory.Config         `yaml:",inline"`
	Capture memory.AutoCaptureConfig `yaml:"capture"`
	Recall  memory.AutoRecallConfig  `yaml:"recall"`
}

// AgentConfig controls the control-loop's prompting, limits, and output location.
type AgentConfig struct {
	SystemTemplate      string  `yaml:"system_template"`
	InstanceTemplate     string  `yaml:"instance_template"`
	ActionObservationTemplate string `yaml:"action_observation_template"`
	FormatErrorTemplate  string  `yaml:"format_error_template"`
	StepLimit            int     `yaml:"step_limit"`
	CostLimit            float64 `yaml:"cost_limit"`
	OutputPath           string  `yaml:"output_path"`
	// ActionDialect selects how the model's chosen shell command is extracted
	// from its response: "fenced" (regex-tagged code block) or "toolcall"
	// (native tool-calling with a single `bash` tool).
	ActionDialect string `yaml:"action_dialect"`
	// AllowLegacyBashFence accepts a bare ```bash fence in addition to the
	// ```mswea_bash_command tag when ActionDialect is "fenced".
	AllowLegacyBashFence bool `yaml:"allow_legacy_bash_fence"`
	// Compaction configures optional mid-run history summarization, keeping
	// long-running tasks inside the model's context window. Off by default.
	Compaction CompactionConfig `yaml:"compaction"`
}

// CompactionConfig controls when and how the agent loop summarizes its own
// running message log instead of feeding the full transcript back to the
// model every step.
type CompactionConfig struct {
	Enabled bool `yaml:"enabled"`
	// ContextWindow is the model's context size in tokens; 0 falls back to
	// a generic default.
	ContextWindow int `yaml:"context_window"`
	// MaxHistoryShare is the fraction of ContextWindow the history may
	// occupy before compaction triggers (default 0.7).
	MaxHistoryShare float64 `yaml:"max_history_share"`
	// Parts is how many roughly-equal chunks the summarized portion is
	// split into for multi-stage summarization (default 2).
	Parts int `yaml:"parts"`
	// KeepRecentMessages is how many of the most recent log entries are
	// left untouched, verbatim, after compaction (default 4).
	KeepRecentMessages int `yaml:"keep_recent_messages"`
}

// DefaultAgentConfig returns the agent defaults used when a config omits them.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		StepLimit:     0,
		CostLimit:     3.0,
		ActionDialect: "fenced",
	}
}

// ModelConfig describes the LM endpoint and its retry/cost behavior.
type ModelConfig struct {
	ModelName        string            `yaml:"model_name"`
	Provider         string            `yaml:"provider"`
	APIKey           string            `yaml:"api_key"`
	APIBase          string            `yaml:"api_base"`
	Temperature      *float64          `yaml:"temperature"`
	ModelKwargs      map[string]any    `yaml:"model_kwargs"`
	RetryBaseDelay   time.Duration     `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration     `yaml:"retry_max_delay"`
	RetryMaxAttempts int               `yaml:"retry_max_attempts"`
	Costs            map[string]usage.Cost `yaml:"costs"`
	CacheControl     bool              `yaml:"cache_control"`
	// CostTracking is "default" (fail a call whose cost can't be priced
	// above zero) or "ignore_errors" (record it as 0 and continue).
	CostTracking string `yaml:"cost_tracking"`
}

// DefaultModelConfig returns the model defaults used when a config omits them.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		RetryBaseDelay:   4 * time.Second,
		RetryMaxDelay:    60 * time.Second,
		RetryMaxAttempts: 10,
		CostTracking:     "default",
	}
}

// EnvironmentConfig describes the sandbox a run's commands execute in.
type EnvironmentConfig struct {
	// Backend selects the execution backend: "local", "docker", or "sandbox"
	// (Firecracker microVM).
	Backend     string            `yaml:"backend"`
	Cwd         string            `yaml:"cwd"`
	Env         map[string]string `yaml:"env"`
	ForwardEnv  []string          `yaml:"forward_env"`
	Timeout     time.Duration     `yaml:"timeout"`
	Interpreter string            `yaml:"interpreter"`

	// Image, RunArgs, and ContainerTimeout apply to the docker and sandbox
	// backends only.
	Image            string        `yaml:"image"`
	RunArgs          []string      `yaml:"run_args"`
	ContainerTimeout time.Duration `yaml:"container_timeout"`
}

// DefaultEnvironmentConfig returns the environment defaults used when a config omits them.
func DefaultEnvironmentConfig() EnvironmentConfig {
	return EnvironmentConfig{
		Backend:          "local",
		Timeout:          30 * time.Second,
		Interpreter:      "/bin/bash",
		ContainerTimeout: 10 * time.Minute,
	}
}

// OrchestratorConfig controls batch-mode concurrency, resume behavior, and
// the optional scheduled-rerun feature.
type OrchestratorConfig struct {
	Workers        int    `yaml:"workers"`
	OutputDir      string `yaml:"output_dir"`
	Redo           bool   `yaml:"redo"`
	PredsFilename  string `yaml:"preds_filename"`
	// Every, if set, reruns the batch on the given cron schedule.
	Every string `yaml:"every"`
}

// DefaultOrchestratorConfig returns the orchestrator defaults used when a config omits them.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:       1,
		PredsFilename: "preds.json",
	}
}

// applyDefaults fills in zero-valued fields with their package defaults.
func (c *Config) applyDefaults() {
	if c.Agent.CostLimit == 0 {
		c.Agent.CostLimit = DefaultAgentConfig().CostLimit
	}
	if c.Agent.ActionDialect == "" {
		c.Agent.ActionDialect = DefaultAgentConfig().ActionDialect
	}
	if c.Model.RetryBaseDelay == 0 {
		c.Model.RetryBaseDelay = DefaultModelConfig().RetryBaseDelay
	}
	if c.Model.RetryMaxDelay == 0 {
		c.Model.RetryMaxDelay = DefaultModelConfig().RetryMaxDelay
	}
	if c.Model.RetryMaxAttempts == 0 {
		c.Model.RetryMaxAttempts = DefaultModelConfig().RetryMaxAttempts
	}
	if c.Model.CostTracking == "" {
		c.Model.CostTracking = DefaultModelConfig().CostTracking
	}
	if c.Environment.Backend == "" {
		c.Environment.Backend = DefaultEnvironmentConfig().Backend
	}
	if c.Environment.Timeout == 0 {
		c.Environment.Timeout = DefaultEnvironmentConfig().Timeout
	}
	if c.Environment.Interpreter == "" {
		c.Environment.Interpreter = DefaultEnvironmentConfig().Interpreter
	}
	if c.Environment.ContainerTimeout == 0 {
		c.Environment.ContainerTimeout = DefaultEnvironmentConfig().ContainerTimeout
	}
	if c.Orchestrator.Workers == 0 {
		c.Orchestrator.Workers = DefaultOrchestratorConfig().Workers
	}
	if c.Orchestrator.PredsFilename == "" {
		c.Orchestrator.PredsFilename = DefaultOrchestratorConfig().PredsFilename
	}
	if c.Observability.Metrics.Addr == "" {
		c.Observability.Metrics.Addr = DefaultObservabilityConfig().Metrics.Addr
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = DefaultObservabilityConfig().Tracing.ServiceName
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = DefaultObservabilityConfig().Tracing.SamplingRate
	}
}

// Load reads, resolves includes, validates the version, and decodes the
// configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	version, _ := raw["version"].(int)
	if version == 0 {
		if v, ok := raw["version"].(float64); ok {
			version = int(v)
		}
	}
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
