package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides a centralized interface for collecting Prometheus metrics
// about an agent run: LLM request latency/cost/tokens, shell command
// execution outcomes, and errors by component. Scrape it over HTTP with
// ServeMetrics.
//
// Usage:
//
//	metrics := observability.Shared()
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", elapsed, 100, 500)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks estimated tokens carried in the running
	// message log at each step.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// StepCounter counts agent steps by outcome.
	// Labels: status (ok|timeout|format_error|error)
	StepCounter *prometheus.CounterVec

	// StepDuration measures the time spent in one think/act/observe step.
	StepDuration prometheus.Histogram

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (agent|environment|model|memory|compaction), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveRuns is a gauge tracking how many task instances are currently
	// executing, labeled by mode (run|batch|interactive).
	ActiveRuns *prometheus.GaugeVec

	// RunDuration measures a whole run's wall-clock time in seconds.
	// Labels: exit_status
	RunDuration *prometheus.HistogramVec

	// RunAttempts counts run attempts by outcome, for batch/retry tracking.
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec

	// CompactionEvents counts history-compaction attempts by outcome.
	// Labels: result (compacted|failed)
	CompactionEvents *prometheus.CounterVec
}

// NewMetrics creates and registers a fresh set of Prometheus metrics with
// the default registry. Call this once per process: registering the same
// metric name twice panics. Most callers want Shared() instead.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mini_swe_agent_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),
		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mini_swe_agent_context_window_tokens",
				Help:    "Estimated tokens carried in the running message log",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),
		StepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_steps_total",
				Help: "Total number of agent steps by outcome",
			},
			[]string{"status"},
		),
		StepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mini_swe_agent_step_duration_seconds",
				Help:    "Duration of one think/act/observe step in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveRuns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mini_swe_agent_active_runs",
				Help: "Current number of executing task instances by mode",
			},
			[]string{"mode"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mini_swe_agent_run_duration_seconds",
				Help:    "Duration of a whole run in seconds by exit status",
				Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800, 3600},
			},
			[]string{"exit_status"},
		),
		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),
		CompactionEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_swe_agent_compaction_events_total",
				Help: "Total number of history-compaction attempts by result",
			},
			[]string{"result"},
		),
	}
}

var (
	sharedMetricsOnce sync.Once
	sharedMetrics     *Metrics
)

// Shared returns a process-wide Metrics instance, constructing it on first
// call. Safe to call from every runtime built for a batch's task instances:
// unlike NewMetrics, it never re-registers collectors.
func Shared() *Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = NewMetrics() })
	return sharedMetrics
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordStep records metrics for one agent step.
func (m *Metrics) RecordStep(status string, durationSeconds float64) {
	m.StepCounter.WithLabelValues(status).Inc()
	m.StepDuration.Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RunStarted increments the active-runs gauge for mode.
func (m *Metrics) RunStarted(mode string) {
	m.ActiveRuns.WithLabelValues(mode).Inc()
}

// RunEnded decrements the active-runs gauge and records run duration and
// attempt outcome.
func (m *Metrics) RunEnded(mode, exitStatus, attemptStatus string, durationSeconds float64) {
	m.ActiveRuns.WithLabelValues(mode).Dec()
	m.RunDuration.WithLabelValues(exitStatus).Observe(durationSeconds)
	m.RunAttempts.WithLabelValues(attemptStatus).Inc()
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordCompaction records a history-compaction attempt's outcome.
func (m *Metrics) RecordCompaction(result string) {
	m.CompactionEvents.WithLabelValues(result).Inc()
}

// ServeMetrics starts an HTTP server exposing the default registry (which
// Shared's collectors register into) at /metrics on addr. It runs until ctx
// is canceled, at which point it shuts down and returns the shutdown error,
// if any; a nil return from the background goroutine is swallowed since
// losing the metrics endpoint should never take down a run.
func ServeMetrics(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	go func() {
		_ = server.ListenAndServe()
	}()

	return server
}
