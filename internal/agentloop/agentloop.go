// Package agentloop drives the think/act/observe cycle that turns a task
// description into a sequence of shell commands: each step asks the model
// for exactly one command, runs it in the configured environment, and feeds
// the result back as the next turn, until the model submits, a limit is
// hit, or an unrecoverable error occurs.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/compaction"
	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/environment"
	"github.com/mini-swe-agent/mini-swe-agent/internal/model"
	"github.com/mini-swe-agent/mini-swe-agent/internal/observability"
	"github.com/mini-swe-agent/mini-swe-agent/internal/templates"
)

// submissionSentinel is the literal line a model emits to end its turn and
// hand back a final answer.
const submissionSentinel = "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT"

// MessageKind discriminates the tagged variants of a logged message for
// trajectory persistence.
type MessageKind string

const (
	KindSystem             MessageKind = "system"
	KindInstance           MessageKind = "instance"
	KindAssistant          MessageKind = "assistant"
	KindUserObservation    MessageKind = "user_observation"
	KindToolObservation    MessageKind = "tool_observation"
	KindFormatError        MessageKind = "format_error"
	KindTimeoutObservation MessageKind = "timeout_observation"
	KindUserInterruption   MessageKind = "user_interruption"
	KindExit               MessageKind = "exit"
)

// Message is one append-only entry in a run's MessageLog.
type Message struct {
	Kind       MessageKind `json:"kind"`
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// MessageLog is the append-only record of everything said and done during a
// run; it is exactly what the Trajectory Store persists.
type MessageLog []Message

// Result is what a completed run produced.
type Result struct {
	ExitStatus string
	Submission string
	Traceback  string
	Log        MessageLog
	StepCount  int
}

// SubmittedError signals the model ended its turn with the submission
// sentinel. It is a terminating condition that is not itself a failure.
type SubmittedError struct {
	Submission string
}

func (e *SubmittedError) Error() string { return "task submitted" }

// LimitsExceededError signals the run hit its step or cost limit.
type LimitsExceededError struct {
	Reason string
}

func (e *LimitsExceededError) Error() string { return "limits exceeded: " + e.Reason }

// Loop runs the think/act/observe cycle for a single task instance.
type Loop struct {
	Client    *model.Client
	Dialect   model.Dialect
	Env       environment.Environment
	Templates *templates.Engine
	Agent     config.AgentConfig
	Stats     *model.Stats
	Logger    *observability.Logger
	// Metrics and Tracer are optional; a nil value disables the
	// corresponding instrumentation rather than panicking.
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	stepCount int
}

// New constructs a Loop ready to Run a single task instance. A nil logger
// disables logging rather than panicking.
func New(client *model.Client, dialect model.Dialect, env environment.Environment, engine *templates.Engine, agentCfg config.AgentConfig, stats *model.Stats) *Loop {
	return &Loop{
		Client:    client,
		Dialect:   dialect,
		Env:       env,
		Templates: engine,
		Agent:     agentCfg,
		Stats:     stats,
		Logger:    observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"}),
	}
}

// Run executes the loop against a single task, returning once the model
// submits, a limit is exceeded, or an unrecoverable error occurs. save is
// invoked after every step with the log accumulated so far, so the caller
// can persist progress incrementally (mirroring mini-swe-agent's
// save-on-every-step trajectory discipline).
func (l *Loop) Run(ctx context.Context, task string, save func(MessageLog)) (*Result, error) {
	log := MessageLog{}

	systemVars := (&templates.RenderContext{Task: task, StepLimit: l.Agent.StepLimit, CostLimit: l.Agent.CostLimit}).ToMap()
	systemText, err := l.Templates.Render(l.Agent.SystemTemplate, systemVars)
	if err != nil {
		return nil, fmt.Errorf("render system template: %w", err)
	}
	log = append(log, Message{Kind: KindSystem, Role: "system", Content: systemText})

	instanceText, err := l.Templates.Render(l.Agent.InstanceTemplate, systemVars)
	if err != nil {
		return nil, fmt.Errorf("render instance template: %w", err)
	}
	log = append(log, Message{Kind: KindInstance, Role: "user", Content: instanceText})
	if save != nil {
		save(log)
	}

	for {
		l.stepCount++
		l.Logger.Debug(ctx, "agent step starting", "step", l.stepCount)
		if l.Agent.StepLimit > 0 && l.stepCount > l.Agent.StepLimit {
			l.Logger.Warn(ctx, "step limit exceeded", "step", l.stepCount, "limit", l.Agent.StepLimit)
			return l.finish(log, "LimitsExceeded", "", save), &LimitsExceededError{Reason: "step_limit"}
		}
		if l.Agent.CostLimit > 0 && l.Stats != nil && l.Stats.CostUSD() > l.Agent.CostLimit {
			return l.finish(log, "LimitsExceeded", "", save), &LimitsExceededError{Reason: "cost_limit"}
		}

		stepStart := time.Now()
		result, err := l.step(ctx, &log)
		if l.Metrics != nil {
			l.Metrics.RecordStep(stepStatus(err), time.Since(stepStart).Seconds())
		}
		if err == nil {
			l.maybeCompact(ctx, &log)
		}
		if save != nil {
			save(log)
		}
		if err == nil {
			continue
		}

		var submitted *SubmittedError
		if errors.As(err, &submitted) {
			l.Logger.Info(ctx, "task submitted", "step", l.stepCount)
			return l.finish(log, "Submitted", submitted.Submission, save), nil
		}
		var limits *LimitsExceededError
		if errors.As(err, &limits) {
			return l.finish(log, "LimitsExceeded", "", save), err
		}
		var retryLimits *model.LimitsExceededError
		if errors.As(err, &retryLimits) {
			return l.finish(log, "LimitsExceeded", "", save), err
		}
		if isNonTerminating(err) {
			l.Logger.Warn(ctx, "recovering from non-terminating error", "step", l.stepCount, "error", err.Error())
			if l.Metrics != nil {
				l.Metrics.RecordError("agent", "recoverable")
			}
			log = append(log, recoveryMessage(err, l.Agent.FormatErrorTemplate, l.Templates))
			if save != nil {
				save(log)
			}
			continue
		}
		_ = result
		l.Logger.Error(ctx, "run aborting on unrecoverable error", "step", l.stepCount, "error", err.Error())
		if l.Metrics != nil {
			l.Metrics.RecordError("agent", fmt.Sprintf("%T", err))
		}
		final := l.finish(log, exitStatusFor(err), "", save)
		final.Traceback = err.Error()
		return final, err
	}
}

// stepStatus classifies a step's outcome for metrics: "ok" covers both a
// clean step and one that recovered inline (a command timeout), since step
// reports those with a nil error too.
func stepStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var submitted *SubmittedError
	if errors.As(err, &submitted) {
		return "submitted"
	}
	if isNonTerminating(err) {
		return "recoverable_error"
	}
	return "error"
}

func (l *Loop) finish(log MessageLog, exitStatus, submission string, save func(MessageLog)) *Result {
	log = append(log, Message{Kind: KindExit, Role: "system", Content: exitStatus})
	if save != nil {
		save(log)
	}
	return &Result{ExitStatus: exitStatus, Submission: submission, Log: log, StepCount: l.stepCount}
}

// step runs one think/act/observe cycle, appending to log as it goes.
func (l *Loop) step(ctx context.Context, log *MessageLog) (*Result, error) {
	messages := toModelMessages(*log)
	resp, err := l.queryModel(ctx, messages)
	if err != nil {
		return nil, err
	}

	*log = append(*log, Message{Kind: KindAssistant, Role: "assistant", Content: resp.Content})

	command, err := l.Dialect.Extract(resp.Content)
	if err != nil {
		return nil, err
	}

	toolCtx, endToolSpan := l.traceTool(ctx, command)
	execResult, err := l.Env.Execute(toolCtx, command)
	endToolSpan(err)
	var timeoutErr *environment.TimeoutError
	if errors.As(err, &timeoutErr) {
		*log = append(*log, Message{
			Kind:    KindTimeoutObservation,
			Role:    observationRole(l.Dialect),
			Content: l.Dialect.FormatObservation(timeoutErr.Output+"\n(command timed out)", -1),
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if submission, ok := detectSubmission(execResult.Output, execResult.ReturnCode); ok {
		return nil, &SubmittedError{Submission: submission}
	}

	*log = append(*log, Message{
		Kind:    KindUserObservation,
		Role:    observationRole(l.Dialect),
		Content: l.Dialect.FormatObservation(execResult.Output, execResult.ReturnCode),
	})
	return nil, nil
}

// queryModel wraps Client.Query with LLM request metrics and a trace span.
func (l *Loop) queryModel(ctx context.Context, messages []model.Message) (*model.Response, error) {
	ctx, endSpan := l.traceLLM(ctx)
	start := time.Now()
	resp, err := l.Client.Query(ctx, messages)
	duration := time.Since(start).Seconds()
	endSpan(err)

	if l.Metrics != nil {
		if err != nil {
			l.Metrics.RecordLLMRequest(l.Client.Name, l.Client.ModelID, "error", duration, 0, 0)
		} else {
			l.Metrics.RecordLLMRequest(l.Client.Name, l.Client.ModelID, "success", duration,
				int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
			l.Metrics.RecordContextWindow(l.Client.Name, l.Client.ModelID, compaction.EstimateMessagesTokens(toCompactionMessages(messagesAsLog(messages))))
		}
	}
	return resp, err
}

// traceLLM starts a span for one LLM query when a Tracer is configured; the
// returned function ends it and records err, if any. With no Tracer it is a
// no-op that leaves ctx untouched.
func (l *Loop) traceLLM(ctx context.Context) (context.Context, func(error)) {
	if l.Tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := l.Tracer.TraceLLMRequest(ctx, l.Client.Name, l.Client.ModelID)
	return spanCtx, func(err error) {
		if err != nil {
			l.Tracer.RecordError(span, err)
		}
		span.End()
	}
}

// traceTool starts a span for one shell command execution when a Tracer is
// configured, mirroring traceLLM.
func (l *Loop) traceTool(ctx context.Context, command string) (context.Context, func(error)) {
	if l.Tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := l.Tracer.TraceToolExecution(ctx, "bash")
	l.Tracer.SetAttributes(span, "command", command)
	return spanCtx, func(err error) {
		if err != nil {
			l.Tracer.RecordError(span, err)
		}
		span.End()
	}
}

func messagesAsLog(messages []model.Message) MessageLog {
	log := make(MessageLog, len(messages))
	for i, m := range messages {
		log[i] = Message{Role: m.Role, Content: m.Content}
	}
	return log
}

func observationRole(d model.Dialect) string {
	if _, ok := d.(model.ToolCallDialect); ok {
		return "tool"
	}
	return "user"
}

// detectSubmission looks for the submission sentinel as a standalone line
// anywhere in output (the last such line wins if it appears more than once)
// and, when found with a zero return code, returns the remaining output
// with that line removed as the submission payload.
func detectSubmission(output string, returnCode int) (string, bool) {
	if returnCode != 0 {
		return "", false
	}
	lines := strings.Split(output, "\n")
	sentinelIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == submissionSentinel {
			sentinelIdx = i
		}
	}
	if sentinelIdx == -1 {
		return "", false
	}
	remaining := append(append([]string{}, lines[:sentinelIdx]...), lines[sentinelIdx+1:]...)
	return strings.Join(remaining, "\n"), true
}

func toModelMessages(log MessageLog) []model.Message {
	messages := make([]model.Message, 0, len(log))
	for _, m := range log {
		if m.Kind == KindExit {
			continue
		}
		messages = append(messages, model.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// isNonTerminating reports whether err is a recoverable condition the loop
// should fold into a user-role message rather than abort the run for:
// malformed model output and command timeouts.
func isNonTerminating(err error) bool {
	if templates.IsFormatError(err) {
		return true
	}
	var noAction *model.NoActionError
	return errors.As(err, &noAction)
}

func recoveryMessage(err error, tmpl string, engine *templates.Engine) Message {
	vars := map[string]any{"error": err.Error()}
	content := "Error: " + err.Error()
	if tmpl != "" {
		if rendered, renderErr := engine.Render(tmpl, vars); renderErr == nil {
			content = rendered
		}
	}
	return Message{Kind: KindFormatError, Role: "user", Content: content}
}

func exitStatusFor(err error) string {
	var providerErr *model.ProviderError
	if errors.As(err, &providerErr) {
		return "ProviderError:" + strconv.Quote(providerErr.Error())
	}
	return fmt.Sprintf("%T", err)
}
