package model

import (
	"context"
	"fmt"

	"github.com/mini-swe-agent/mini-swe-agent/internal/config"
)

// New builds a Client for cfg.Provider, wrapping it with retry and global
// cost/usage accounting. dialect selects which action-extraction dialect the
// returned Client is meant to be paired with; it only affects whether the
// OpenAI backend advertises the native "bash" tool.
func New(cfg config.ModelConfig, dialect string, stats *Stats) (*Client, error) {
	useToolCalls := dialect == "toolcall"

	var client *Client
	var err error
	switch cfg.Provider {
	case "", "anthropic":
		client, err = NewAnthropicClient(cfg)
	case "openai":
		client, err = NewOpenAIClient(cfg, useToolCalls)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	retried := WithRetry(RetryConfig{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		MaxAttempts: cfg.RetryMaxAttempts,
	}, client.query)

	if stats == nil {
		stats = GlobalModelStats
	}
	provider := client.Name
	modelID := client.ModelID
	costTracking := cfg.CostTracking
	if costTracking == "" {
		costTracking = "default"
	}
	client.query = func(ctx context.Context, messages []Message) (*Response, error) {
		resp, err := retried(ctx, messages)
		if err != nil {
			return nil, err
		}
		if err := stats.Add(provider, modelID, resp.Usage, costTracking); err != nil {
			return nil, err
		}
		return resp, nil
	}

	return client, nil
}
