package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// chatCompletionResponse writes a minimal, valid Chat Completions JSON body
// with a single tool call, mirroring the shape the OpenAI API itself sends.
func chatCompletionResponse(w http.ResponseWriter, toolName, arguments string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 0,
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "` + toolName + `", "arguments": ` + arguments + `}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`))
}

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient(config.ModelConfig{APIKey: "test-key", APIBase: server.URL}, true)
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return client
}

func TestOpenAIClient_ToolCall_UnknownToolIsFormatError(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatCompletionResponse(w, "edit_file", `"{\"command\":\"ls\"}"`)
	})

	_, err := client.Query(context.Background(), []Message{{Role: "user", Content: "do something"}})
	var noAction *NoActionError
	if !errors.As(err, &noAction) {
		t.Fatalf("expected *NoActionError for an unknown tool name, got %T: %v", err, err)
	}
}

func TestOpenAIClient_ToolCall_MissingCommandIsFormatError(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatCompletionResponse(w, BashToolName, `"{}"`)
	})

	_, err := client.Query(context.Background(), []Message{{Role: "user", Content: "do something"}})
	var noAction *NoActionError
	if !errors.As(err, &noAction) {
		t.Fatalf("expected *NoActionError for a missing command argument, got %T: %v", err, err)
	}
}

func TestOpenAIClient_ToolCall_MalformedArgumentsIsFormatError(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatCompletionResponse(w, BashToolName, `"{not valid json"`)
	})

	_, err := client.Query(context.Background(), []Message{{Role: "user", Content: "do something"}})
	var noAction *NoActionError
	if !errors.As(err, &noAction) {
		t.Fatalf("expected *NoActionError for malformed tool call arguments, got %T: %v", err, err)
	}
}

func TestOpenAIClient_ToolCall_ValidCommandExtracted(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatCompletionResponse(w, BashToolName, `"{\"command\":\"echo hi\"}"`)
	})

	resp, err := client.Query(context.Background(), []Message{{Role: "user", Content: "do something"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "echo hi" {
		t.Errorf("got %q, want %q", resp.Content, "echo hi")
	}
}
