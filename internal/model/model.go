// Package model defines the LM client contract the agent loop drives: one
// query per step, strict cost/retry accounting, and two ways of recovering
// the shell command the model chose from its response.
package model

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/mini-swe-agent/mini-swe-agent/internal/usage"
)

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Response is a single query's result: the raw assistant text plus the
// token usage billed for producing it.
type Response struct {
	Content string
	Usage   usage.Usage
}

// Client is the contract every LM backend implements. One Client instance is
// shared for a whole run; Query is called once per agent step.
type Client struct {
	Name    string
	ModelID string
	query   func(ctx context.Context, messages []Message) (*Response, error)
}

// Query sends messages to the backend and returns its response.
func (c *Client) Query(ctx context.Context, messages []Message) (*Response, error) {
	return c.query(ctx, messages)
}

// NewClient wraps an arbitrary query function as a Client. Backend
// constructors (NewAnthropicClient, NewOpenAIClient) use this internally;
// it is also the seam tests use to stand in a scripted model.
func NewClient(name, modelID string, query func(ctx context.Context, messages []Message) (*Response, error)) *Client {
	return &Client{Name: name, ModelID: modelID, query: query}
}

// Dialect extracts the shell command an assistant response asked to run.
type Dialect interface {
	// Extract returns the shell command in content, or a *NoActionError if
	// none could be found.
	Extract(content string) (string, error)
	// FormatObservation renders the result of executing a command back into
	// the message the model sees next.
	FormatObservation(output string, returnCode int) string
}

// NoActionError reports that a model response contained no recoverable
// action. The agent loop treats this as a FormatError: a non-terminating,
// recoverable condition fed back to the model as a user-role message.
type NoActionError struct {
	// Content is the raw model response that failed to yield an action.
	Content string
	// Reason, when set, replaces the generic error message with a specific
	// one (an unknown tool name, a malformed tool-call argument) so the
	// model sees what exactly was wrong with its last response.
	Reason string
}

func (e *NoActionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "no shell command found in model response"
}

// fencedActionPattern matches the canonical ```mswea_bash_command fenced block.
var fencedActionPattern = regexp.MustCompile("(?s)```mswea_bash_command\\s*\\n(.*?)\\n```")

// legacyFencedActionPattern matches the older bare ```bash fence, accepted
// only when AllowLegacyBashFence is set.
var legacyFencedActionPattern = regexp.MustCompile("(?s)```bash\\s*\\n(.*?)\\n```")

// FencedDialect extracts the single fenced code block from a response.
// mini-swe-agent expects exactly one action per step: zero fenced blocks
// means the model didn't propose a command, and more than one is a
// multi-command response it can't disambiguate, so both raise a
// *NoActionError rather than guessing.
type FencedDialect struct {
	AllowLegacyBashFence bool
}

// Extract implements Dialect.
func (d FencedDialect) Extract(content string) (string, error) {
	matches := fencedActionPattern.FindAllStringSubmatch(content, -1)
	if d.AllowLegacyBashFence {
		matches = append(matches, legacyFencedActionPattern.FindAllStringSubmatch(content, -1)...)
	}
	if len(matches) != 1 {
		return "", &NoActionError{Content: content}
	}
	return strings.TrimSpace(matches[0][1]), nil
}

// FormatObservation implements Dialect.
func (d FencedDialect) FormatObservation(output string, returnCode int) string {
	return formatObservation(output, returnCode)
}

// ToolCallDialect extracts the command from a native tool call rather than a
// fenced block. Backends using this dialect (see NewOpenAIClient's
// useToolCalls) already resolve the provider's tool-call payload into
// Response.Content before the loop ever sees it, so Extract only validates
// that one was actually supplied.
type ToolCallDialect struct{}

// Extract implements Dialect.
func (d ToolCallDialect) Extract(content string) (string, error) {
	if content == "" {
		return "", &NoActionError{Content: content}
	}
	return content, nil
}

// FormatObservation implements Dialect.
func (d ToolCallDialect) FormatObservation(output string, returnCode int) string {
	return formatObservation(output, returnCode)
}

// BashToolName is the single tool declared to models using the tool-call
// dialect; it takes one required string argument, "command".
const BashToolName = "bash"

func formatObservation(output string, returnCode int) string {
	rc := strconv.Itoa(returnCode)
	if output == "" {
		return "<returncode>" + rc + "</returncode>\n<output>\n(no output)\n</output>"
	}
	return "<returncode>" + rc + "</returncode>\n<output>\n" + output + "\n</output>"
}
