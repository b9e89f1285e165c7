package model

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
	"github.com/mini-swe-agent/mini-swe-agent/internal/usage"
)

// NewAnthropicClient builds a Client backed by the Anthropic Messages API.
// cacheControl marks the system prompt as cacheable when cfg.CacheControl is
// set, trading a slightly larger first call for cheaper repeats across a
// run's many steps with an unchanged system prompt.
func NewAnthropicClient(cfg config.ModelConfig) (*Client, error) {
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, option.WithBaseURL(cfg.APIBase))
	}
	sdkClient := anthropic.NewClient(options...)

	modelID := cfg.ModelName
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	maxTokens := int64(8192)
	if v, ok := cfg.ModelKwargs["max_tokens"]; ok {
		if n, ok := v.(int); ok {
			maxTokens = int64(n)
		}
	}

	query := func(ctx context.Context, messages []Message) (*Response, error) {
		var system []anthropic.TextBlockParam
		var sdkMessages []anthropic.MessageParam
		for _, m := range messages {
			switch m.Role {
			case "system":
				block := anthropic.TextBlockParam{Text: m.Content}
				if cfg.CacheControl {
					block.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				system = append(system, block)
			case "assistant":
				sdkMessages = append(sdkMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			default:
				sdkMessages = append(sdkMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(modelID),
			MaxTokens: maxTokens,
			Messages:  sdkMessages,
		}
		if len(system) > 0 {
			params.System = system
		}
		if cfg.Temperature != nil {
			params.Temperature = anthropic.Float(*cfg.Temperature)
		}

		msg, err := sdkClient.Messages.New(ctx, params)
		if err != nil {
			return nil, NewProviderError("anthropic", modelID, err)
		}

		var text strings.Builder
		for _, block := range msg.Content {
			if variant := block.AsAny(); variant != nil {
				if textBlock, ok := variant.(anthropic.TextBlock); ok {
					text.WriteString(textBlock.Text)
				}
			}
		}

		return &Response{
			Content: text.String(),
			Usage: usage.Usage{
				InputTokens:      msg.Usage.InputTokens,
				OutputTokens:     msg.Usage.OutputTokens,
				CacheReadTokens:  msg.Usage.CacheReadInputTokens,
				CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			},
		}, nil
	}

	return NewClient("anthropic", modelID, query), nil
}
