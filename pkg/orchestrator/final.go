package orchestrator

import (
	"context"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/policy"
	"agentcore/pkg/reasoning"
)

const finalInstruction = "Give your final answer now based on the work so far."

// finalResponse fixes the answer text and appends it to the history.
func (e *Engine) finalResponse(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodeFinalResponse, ErrMissingResponse)
	}
	req := s.Request
	answer := s.candidate()

	if answer == "" && s.CutOff {
		// the tool budget ran out mid-work: ask once for a summary without tools
		sc, err := e.prepare(ctx, NodeFinalResponse, s, policy.StageFinal, nil)
		if err != nil {
			return s, err
		}
		resp, err := e.call(ctx, s, sc, e.transient(s, sc, llm.NewUserMessage(finalInstruction)))
		switch {
		case err != nil && ctx.Err() != nil:
			return s, err
		case err != nil:
			e.logger.Warn("⚠️  Final answer request failed, using fallback: %v", err)
		default:
			answer = reasoning.Strip(resp.Content)
		}
	}
	if answer == "" {
		answer = FallbackMessage
	}

	s.Answer = answer
	e.histories.For(req.ConversationID).Append(llm.NewAssistantMessage(answer, nil))
	e.emit(req, Record{Role: llm.RoleAssistant, Content: answer})
	return s.goTo(NodePostFinal), nil
}

// postFinal attaches the QA report, persists the history and emits the
// terminal state. The answer is final at this point.
func (e *Engine) postFinal(ctx context.Context, s State) (State, error) {
	req := s.Request
	if s.QAReport != nil {
		text := s.QAReport.Render()
		e.emit(req, Record{Role: llm.RoleSystem, Content: text})
		if e.opts.QA.AppendToHistory {
			e.histories.For(req.ConversationID).AddMessage(llm.RoleSystem, text)
		}
	}
	e.saveHistory(ctx, req.ConversationID)

	e.sink.Done(Terminal{
		ConversationID: req.ConversationID,
		RunID:          req.RunID,
		Status:         StatusCompleted,
		Answer:         s.Answer,
		QA:             s.QAReport,
		Hops:           s.Hops,
	})
	return s.end(), nil
}
