// Package timeout bounds how long a single model request may take.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
)

// Middleware gives every request its own deadline. A zero duration disables it.
//
// When that deadline fires while the caller's context is still live, the
// error becomes a transient llmerrors.Error that still matches
// context.DeadlineExceeded, so retry treats it like any flaky response.
func Middleware(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			reqCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next.Complete(reqCtx, req)
			if err != nil && ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return resp, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
					fmt.Sprintf("%s did not answer within %s", next.GetModelName(), d))
			}
			return resp, err //nolint:wrapcheck // pass through unchanged
		})
	}
}
