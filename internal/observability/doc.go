// Package observability provides metrics, structured logging, and
// distributed tracing for an agent run.
//
// # Metrics
//
// Metrics are implemented using the Prometheus client and track:
//   - LLM request latency, token usage, and estimated cost
//   - Agent step outcomes and duration
//   - Error rates by component and type
//   - Active runs and run duration, for batch/orchestrator monitoring
//   - History-compaction attempts
//
// Example usage:
//
//	metrics := observability.Shared()
//
//	start := time.Now()
//	// ... query the model ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute the chosen command ...
//	metrics.RecordStep("ok", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "agent step starting", "step", stepCount)
//
//	logger.Error(ctx, "model query failed",
//	    "error", err,
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to follow one task instance's
// think/act/observe steps, LLM calls, and shell command executions:
//
//	tracer, shutdown := observability.SharedTracer(observability.TraceConfig{
//	    ServiceName: "mini-swe-agent",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"), // empty disables export
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//	if err != nil {
//	    tracer.RecordError(llmSpan, err)
//	}
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "bash")
//	defer toolSpan.End()
//
// # Security Considerations
//
// The logging component automatically redacts API keys, passwords, JWTs,
// bearer tokens, and custom patterns from both message text and structured
// key-value fields (password, secret, api_key, token, authorization,
// private_key, and their common variants).
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
