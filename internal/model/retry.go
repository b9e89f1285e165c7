package model

import (
	"context"
	"fmt"
	"time"

	"github.com/mini-swe-agent/mini-swe-agent/internal/backoff"
)

// RetryConfig controls how a Client retries a failed LM call.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// LimitsExceededError is raised once MaxAttempts is exhausted against a
// retryable error. The agent loop treats this as terminating.
type LimitsExceededError struct {
	Attempts int
	Cause    error
}

func (e *LimitsExceededError) Error() string {
	return fmt.Sprintf("exceeded %d retry attempts: %s", e.Attempts, e.Cause)
}

func (e *LimitsExceededError) Unwrap() error {
	return e.Cause
}

// WithRetry wraps query with the exponential-backoff-with-jitter policy
// mini-swe-agent's model clients use: errors ClassifyError marks retryable
// (rate limits, timeouts, server errors) are retried up to MaxAttempts times;
// everything else (auth, billing, content filter) aborts immediately.
func WithRetry(cfg RetryConfig, query func(ctx context.Context, messages []Message) (*Response, error)) func(ctx context.Context, messages []Message) (*Response, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	policy := backoff.BackoffPolicy{
		InitialMs: float64(cfg.BaseDelay.Milliseconds()),
		MaxMs:     float64(cfg.MaxDelay.Milliseconds()),
		Factor:    2,
		Jitter:    0.1,
	}
	if policy.InitialMs <= 0 {
		policy.InitialMs = 4000
	}
	if policy.MaxMs <= 0 {
		policy.MaxMs = 60000
	}

	return func(ctx context.Context, messages []Message) (*Response, error) {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			resp, err := query(ctx, messages)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if !IsRetryable(err) {
				return nil, err
			}
			if attempt >= maxAttempts {
				break
			}
			delay := backoff.ComputeBackoff(policy, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		return nil, &LimitsExceededError{Attempts: maxAttempts, Cause: lastErr}
	}
}
