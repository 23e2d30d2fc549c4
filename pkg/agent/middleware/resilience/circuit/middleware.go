package circuit

import (
	"context"
	"errors"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
)

// Middleware rejects requests while the circuit is open. Rejections surface as
// ErrorTypeServiceUnavailable so callers end the turn instead of retrying.
// Only retryable transport failures count against the circuit; a bad prompt says
// nothing about the provider's health.
func Middleware(breaker *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if err := breaker.Acquire(); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(
					llmerrors.ErrorTypeServiceUnavailable, err, "circuit open for "+next.GetModelName())
			}

			resp, err := next.Complete(ctx, req)
			switch {
			case err == nil:
				breaker.Record(true)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
				breaker.Release()
			case llmerrors.IsRetryable(err) || llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable):
				breaker.Record(false)
			default:
				breaker.Release()
			}
			return resp, err //nolint:wrapcheck // pass through unchanged
		})
	}
}
