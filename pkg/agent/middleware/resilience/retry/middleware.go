package retry

import (
	"context"
	"fmt"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/logx"
)

// Middleware retries failed requests according to policy. Running out of
// attempts on a retryable error yields ErrorTypeServiceUnavailable.
func Middleware(policy *Policy) llm.Middleware {
	logger := logx.NewLogger("retry")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			var err error
			for attempt := 1; attempt <= policy.Attempts(); attempt++ {
				if attempt > 1 {
					if werr := wait(ctx, policy.Backoff(attempt-1)); werr != nil {
						return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", werr)
					}
				}

				var resp llm.CompletionResponse
				resp, err = next.Complete(ctx, req)
				switch {
				case err == nil:
					return resp, nil
				case !policy.Retryable(err) || ctx.Err() != nil:
					return llm.CompletionResponse{}, err
				case attempt < policy.Attempts():
					logger.Warn("🔁 %s attempt %d/%d failed: %v", next.GetModelName(), attempt, policy.Attempts(), err)
				}
			}
			return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(err, policy.Attempts())
		})
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
