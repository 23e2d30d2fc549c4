// Package ratelimit bounds outbound model requests with a token bucket.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/config"
)

// Limiter is satisfied by *rate.Limiter.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter builds a limiter from config. It returns nil when limiting is disabled.
func NewLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Middleware waits for a token before each request. A nil limiter is a passthrough.
func Middleware(limiter Limiter) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if limiter == nil {
			return next
		}
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("rate limiter wait: %w", err)
			}
			return next.Complete(ctx, req)
		})
	}
}
