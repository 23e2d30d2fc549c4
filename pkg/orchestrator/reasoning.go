package orchestrator

import (
	"context"
	"strings"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/policy"
	"agentcore/pkg/reasoning"
)

const reformatInstruction = "Rewrite your previous reply with a valid reasoning block followed by the same content."

// reasoningCorrections enforces the reasoning block where policy requires it.
// Malformed blocks get a bounded number of reformat requests; when they run
// out the best response seen so far is kept. A valid block is persisted as a
// reasoning.Outcome.
func (e *Engine) reasoningCorrections(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodeReasoningCorrections, ErrMissingResponse)
	}
	req := s.Request
	stage := s.ResponseStage
	if stage == "" {
		stage = policy.StageDispatch
	}
	required := e.policy.Resolve(req.Mode, stage, req.descriptors()).RequireReasoning

	problems := reasoning.Validate(s.Response.Content)
	if len(problems) == 0 {
		return e.saveOutcome(ctx, s).goTo(NodeDeliveryGate), nil
	}
	if !required {
		return s.goTo(NodeDeliveryGate), nil
	}

	if s.ReasoningRetries >= e.opts.Orchestration.MaxReasoningRetries {
		e.logger.Warn("⚠️  Reasoning still malformed after %d retries, keeping best response: %s",
			s.ReasoningRetries, strings.Join(problems, "; "))
		return s.goTo(NodeDeliveryGate), nil
	}

	sc, err := e.prepare(ctx, NodeReasoningCorrections, s, policy.StageReasoningCorrection, problems)
	if err != nil {
		return s, err
	}
	s.ReasoningRetries++
	e.metrics.ReasoningRetry(string(req.Mode))
	e.logger.Info("🔁 Reasoning correction %d/%d: %s",
		s.ReasoningRetries, e.opts.Orchestration.MaxReasoningRetries, strings.Join(problems, "; "))

	resp, err := e.call(ctx, s, sc, e.transient(s, sc,
		llm.NewAssistantMessage(s.Response.Content, nil),
		llm.NewUserMessage(reformatInstruction),
	))
	if err != nil {
		return s, err
	}
	if better(resp, *s.Response) {
		resp.ToolCalls = s.Response.ToolCalls
		s = s.withResponse(resp, stage)
	}
	return s.goTo(NodeReasoningCorrections), nil
}

// better reports whether a reformatted reply should replace the current one.
// A reply that drops the answer text never does; otherwise fewer problems win.
func better(next, current llm.CompletionResponse) bool {
	if strings.TrimSpace(next.Content) == "" {
		return false
	}
	nextText, curText := reasoning.Strip(next.Content), reasoning.Strip(current.Content)
	if nextText == "" && curText != "" {
		return false
	}
	return curText == "" || len(reasoning.Validate(next.Content)) < len(reasoning.Validate(current.Content))
}

// saveOutcome derives the outcome from the current response and persists it.
// Storage failures are logged; the outcome stays on the state either way.
func (e *Engine) saveOutcome(ctx context.Context, s State) State {
	o, ok := reasoning.Parse(s.Response.Content)
	if !ok {
		return s
	}
	o.ConversationID = s.Request.ConversationID
	o.RunID = s.Request.RunID
	o.CreatedAt = time.Now().UTC()
	if err := e.outcomes.Save(ctx, o); err != nil {
		e.logger.Warn("⚠️  Failed to save reasoning outcome: %v", err)
	}
	s.Outcome = &o
	return s
}
