package orchestrator

import (
	"context"

	"agentcore/pkg/policy"
)

// dispatch issues the first model call of the run.
func (e *Engine) dispatch(ctx context.Context, s State) (State, error) {
	sc, err := e.prepare(ctx, NodeDispatcher, s, policy.StageDispatch, nil)
	if err != nil {
		return s, err
	}
	resp, err := e.call(ctx, s, sc, e.transient(s, sc))
	if err != nil {
		return s, err
	}
	s = s.withResponse(resp, policy.StageDispatch)

	switch {
	case resp.HasToolCalls():
		e.logger.Info("📤 Dispatcher: %d tool calls requested", len(resp.ToolCalls))
		s.Proposed = append(s.Proposed[:0:0], resp.ToolCalls...)
		return s.goTo(NodeToolLoop), nil
	case resp.IsEmpty():
		e.logger.Warn("⚠️  Dispatcher: empty response")
		return s.goTo(NodeEmptyRecovery), nil
	default:
		return s.goTo(NodePlanning), nil
	}
}
