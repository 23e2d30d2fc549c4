package orchestrator

import (
	"context"
	"fmt"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/reasoning"
)

// deliveryGate compares the model's delivery claim with plan progress. An
// open plan sends the run back to the tool loop, through a correction request
// when the model claimed DONE. Reroutes are bounded; once they are spent the
// run moves on so it always ends.
func (e *Engine) deliveryGate(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodeDeliveryGate, ErrMissingResponse)
	}
	req := s.Request
	if s.Response.HasToolCalls() {
		return s.goTo(NodeToolLoop), nil
	}
	if !e.policy.Resolve(req.Mode, policy.StageDeliveryCorrection, nil).Permitted {
		return s.goTo(NodeQA), nil
	}

	p, _, err := e.plans.Get(ctx, req.ConversationID)
	if err != nil {
		if ctx.Err() != nil {
			return s, err
		}
		e.logger.Warn("⚠️  Delivery gate cannot read plan, passing: %v", err)
		return s.goTo(NodeQA), nil
	}
	progress := p.Progress()
	if progress.Total == 0 || progress.IsComplete {
		return s.goTo(NodeQA), nil
	}

	delivery := reasoning.DeliveryOf(s.Response.Content)
	if s.Outcome != nil && delivery == reasoning.DeliveryUnknown {
		delivery = s.Outcome.Delivery
	}

	if s.DeliveryCorrections >= e.opts.Orchestration.MaxDeliveryCorrections {
		e.logger.Warn("⚠️  Plan still open (%s) after %d corrections, delivering anyway",
			plan.Summary(progress), s.DeliveryCorrections)
		return s.goTo(NodeQA), nil
	}
	s.DeliveryCorrections++
	e.metrics.DeliveryCorrection(string(req.Mode))

	if delivery != reasoning.DeliveryDone {
		e.logger.Info("🔁 Delivery %q with plan at %s, continuing tool work", delivery, plan.Summary(progress))
		return s.goTo(NodeToolLoop), nil
	}

	e.logger.Info("🚧 DONE claimed with plan at %s, requesting correction", plan.Summary(progress))
	sc, err := e.prepare(ctx, NodeDeliveryGate, s, policy.StageDeliveryCorrection, nil)
	if err != nil {
		return s, err
	}
	history := e.histories.For(req.ConversationID)
	history.Append(
		llm.NewAssistantMessage(s.Response.Content, nil),
		llm.NewUserMessage(correctionMessage(progress)),
	)
	resp, err := e.call(ctx, s, sc, history.BuildMessages(sc.system))
	if err != nil {
		return s, err
	}
	s = s.withResponse(resp, policy.StageDeliveryCorrection)
	if resp.IsEmpty() {
		return s.goTo(NodeEmptyRecovery), nil
	}
	// with or without calls: the tool loop nudges a reply that has none
	return s.goTo(NodeToolLoop), nil
}

func correctionMessage(p plan.Progress) string {
	return fmt.Sprintf("You reported DELIVERY: DONE, but %d of %d plan steps are still open. Continue working on them.",
		p.Open(), p.Total)
}
