package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor returns prompt and completion token counts for one request.
type UsageExtractor func(req *llm.CompletionRequest, resp *llm.CompletionResponse) (prompt, completion int)

// ReportedOrCounted prefers provider-reported usage and counts with tiktoken
// when the provider reports none.
func ReportedOrCounted(req *llm.CompletionRequest, resp *llm.CompletionResponse) (prompt, completion int) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
	}
	return utils.CountTokensSimple(sb.String()), utils.CountTokensSimple(resp.Content)
}

// Middleware reports every request to recorder. Nil arguments fall back to
// Nop, ReportedOrCounted and no logging.
func Middleware(recorder Recorder, usage UsageExtractor, logger *logx.Logger) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	if usage == nil {
		usage = ReportedOrCounted
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, req)

			o := Observation{
				Model:     next.GetModelName(),
				Mode:      string(req.Meta.Mode),
				Stage:     string(req.Meta.Stage),
				ErrorType: errorLabel(err),
				Duration:  time.Since(start),
			}
			if err == nil {
				o.PromptTokens, o.CompletionTokens = usage(&req, &resp)
			}
			recorder.Observe(o)

			if logger != nil {
				logger.Debug("📊 %s %s/%s: %d+%d tokens in %dms %s",
					o.Model, o.Mode, o.Stage, o.PromptTokens, o.CompletionTokens, o.Duration.Milliseconds(), o.ErrorType)
			}
			return resp, err //nolint:wrapcheck // pass through unchanged
		})
	}
}

// errorLabel names err for the error_type label.
func errorLabel(err error) string {
	var llmErr *llmerrors.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &llmErr):
		return llmErr.Type.String()
	default:
		return "unknown"
	}
}
