package orchestrator

import (
	"context"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/policy"
)

const recoveryInstruction = "Your last reply was empty. Call a tool to make progress or give your final answer now. Do not ask a clarifying question."

// emptyRecovery handles a turn with neither text nor tool calls. Agent mode
// gets one continuation request per run; anything else ends on the fallback.
func (e *Engine) emptyRecovery(ctx context.Context, s State) (State, error) {
	req := s.Request
	if req.Mode != policy.ModeAgent || s.RecoveryUsed {
		e.logger.Warn("⚠️  Empty response, using fallback answer")
		e.metrics.EmptyRecovery(string(req.Mode), "fallback")
		return e.fallback(s), nil
	}

	sc, err := e.prepare(ctx, NodeEmptyRecovery, s, policy.StageEmptyRecovery, nil)
	if err != nil {
		return s, err
	}
	s.RecoveryUsed = true
	e.logger.Info("🔁 Empty response, requesting continuation")
	resp, err := e.call(ctx, s, sc, e.transient(s, sc, llm.NewUserMessage(recoveryInstruction)))
	if err != nil {
		return s, err
	}
	s = s.withResponse(resp, policy.StageEmptyRecovery)

	switch {
	case resp.HasToolCalls():
		e.metrics.EmptyRecovery(string(req.Mode), "tool_calls")
		if !s.Planned && len(s.Proposed) == 0 {
			s.Proposed = append([]llm.ToolCall(nil), resp.ToolCalls...)
		}
		return s.goTo(NodeToolLoop), nil
	case resp.IsEmpty():
		e.metrics.EmptyRecovery(string(req.Mode), "fallback")
		return e.fallback(s), nil
	default:
		e.metrics.EmptyRecovery(string(req.Mode), "answer")
		return s.goTo(NodePlanning), nil
	}
}

func (e *Engine) fallback(s State) State {
	s = s.withResponse(llm.CompletionResponse{Content: FallbackMessage, StopReason: "fallback"}, s.ResponseStage)
	return s.goTo(NodeFinalResponse)
}
