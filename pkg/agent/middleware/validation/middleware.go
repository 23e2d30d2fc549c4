// Package validation checks requests before they leave and normalizes responses
// before the orchestrator sees them.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/logx"
)

// Middleware rejects structurally invalid requests as ErrorTypeBadPrompt and gives
// every returned tool call a stable id. Empty turns are passed through untouched:
// recovering from them is a graph decision, not a transport one.
func Middleware() llm.Middleware {
	logger := logx.NewLogger("response-validator")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if err := req.Validate(); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, err.Error())
			}
			if err := checkToolChoice(req); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, err.Error())
			}

			resp, err := next.Complete(ctx, req)
			if err != nil {
				return resp, err //nolint:wrapcheck // pass through unchanged
			}

			resp.ToolCalls = normalizeCalls(resp.ToolCalls)
			if resp.IsEmpty() {
				logger.Warn("⚠️ empty response from %s (stage=%s, tools offered=%d)",
					next.GetModelName(), req.Meta.Stage, len(req.Tools))
			} else if len(req.Tools) == 0 && resp.HasToolCalls() {
				logger.Warn("model %s requested %d tool call(s) at stage %s with no tools offered",
					next.GetModelName(), len(resp.ToolCalls), req.Meta.Stage)
			}
			return resp, nil
		})
	}
}

func checkToolChoice(req llm.CompletionRequest) error {
	switch req.ToolChoice {
	case "", llm.ToolChoiceAuto, llm.ToolChoiceNone:
		return nil
	case llm.ToolChoiceAny:
		if len(req.Tools) == 0 {
			return fmt.Errorf("tool choice %q requires at least one tool", req.ToolChoice)
		}
		return nil
	default:
		return fmt.Errorf("unknown tool choice %q", req.ToolChoice)
	}
}

// normalizeCalls trims names, drops nameless calls, fills missing ids and
// guarantees a non-nil argument map.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := make([]llm.ToolCall, 0, len(calls))
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = true
		if c.Parameters == nil {
			c.Parameters = map[string]any{}
		}
		out = append(out, c)
	}
	return out
}
