package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/usage"
)

var errNoChoices = errors.New("openai: response contained no choices")

// bashToolSchema is the JSON schema for the single "bash" tool declared to
// models running in tool-call dialect.
const bashToolSchema = `{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "The shell command to execute"
		}
	},
	"required": ["command"]
}`

// NewOpenAIClient builds a Client backed by OpenAI's chat completions API.
// When useToolCalls is true the model is offered the native "bash" tool
// instead of being asked to fence its command in text; Query then returns
// the tool call's arguments as Response.Content so the caller's ToolCallDialect
// can pick the command straight out of it.
func NewOpenAIClient(cfg config.ModelConfig, useToolCalls bool) (*Client, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.APIBase) != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	sdkClient := openai.NewClientWithConfig(clientCfg)

	modelID := cfg.ModelName
	if modelID == "" {
		modelID = "gpt-4o"
	}

	query := func(ctx context.Context, messages []Message) (*Response, error) {
		var chatMessages []openai.ChatCompletionMessage
		for _, m := range messages {
			chatMessages = append(chatMessages, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}

		req := openai.ChatCompletionRequest{
			Model:    modelID,
			Messages: chatMessages,
		}
		if cfg.Temperature != nil {
			req.Temperature = float32(*cfg.Temperature)
		}
		if useToolCalls {
			req.Tools = []openai.Tool{{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        BashToolName,
					Description: "Execute a shell command and return its output.",
					Parameters:  json.RawMessage(bashToolSchema),
				},
			}}
		}

		resp, err := sdkClient.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, NewProviderError("openai", modelID, err)
		}
		if len(resp.Choices) == 0 {
			return nil, NewProviderError("openai", modelID, errNoChoices)
		}

		choice := resp.Choices[0]
		content := choice.Message.Content
		if useToolCalls {
			for _, tc := range choice.Message.ToolCalls {
				if tc.Function.Name != BashToolName {
					return nil, &NoActionError{Reason: "unknown tool '" + tc.Function.Name + "'; valid tools: [" + BashToolName + "]"}
				}
				var args map[string]any
				if jsonErr := json.Unmarshal([]byte(tc.Function.Arguments), &args); jsonErr != nil {
					return nil, &NoActionError{Reason: "error parsing tool call arguments: " + jsonErr.Error()}
				}
				command, ok := args["command"].(string)
				if !ok || command == "" {
					return nil, &NoActionError{Reason: "missing 'command' argument in bash tool call"}
				}
				content = command
			}
		}

		return &Response{
			Content: content,
			Usage: usage.Usage{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
			},
		}, nil
	}

	return NewClient("openai", modelID, query), nil
}
