package orchestrator

import (
	"context"
	"strings"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
)

const planInstruction = "Write the plan for this request now as a markdown checklist."

// planning keeps the conversation's checklist current. The first pass of a
// run synthesises the strategic plan; every pass folds executed calls in.
// Chat mode has no plan.
func (e *Engine) planning(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodePlanning, ErrMissingResponse)
	}
	req := s.Request
	if !e.policy.Resolve(req.Mode, policy.StagePlanning, nil).Permitted {
		return s.goTo(NodeReasoningCorrections), nil
	}

	checklist := ""
	if !s.Planned && e.opts.Orchestration.PlanWithModel {
		checklist = e.modelChecklist(ctx, s)
	}

	strategic := !s.Planned
	executed := s.Executed
	p, err := e.plans.Update(ctx, req.ConversationID, func(current plan.Plan) (plan.Plan, error) {
		text := current.Text
		if strategic {
			text = plan.Strategic(current, req.Tools, s.Proposed, checklist, req.ProjectRoot)
		}
		text = plan.Tactical(text, req.Tools, executed, req.ProjectRoot)
		if strings.TrimSpace(text) == "" {
			return current, nil
		}
		current.Text = text
		return current, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return s, err
		}
		// the plan is advisory for this run; the gate reads whatever was stored
		e.logger.Warn("⚠️  Failed to update plan for %s: %v", req.ConversationID, err)
	} else {
		e.logger.Info("📋 Plan for %s: %s", req.ConversationID, plan.Summary(p.Progress()))
	}

	s.Planned = true
	s.Executed = nil
	return s.goTo(NodeReasoningCorrections), nil
}

// modelChecklist asks the model for a checklist. Failures are logged and the
// plan is synthesised from the proposed calls alone.
func (e *Engine) modelChecklist(ctx context.Context, s State) string {
	sc, err := e.prepare(ctx, NodePlanning, s, policy.StagePlanning, nil)
	if err != nil {
		e.logger.Warn("⚠️  Planning prompt unavailable: %v", err)
		return ""
	}
	resp, err := e.call(ctx, s, sc, e.transient(s, sc, llm.NewUserMessage(planInstruction)))
	if err != nil {
		e.logger.Warn("⚠️  Model checklist failed, using proposed calls only: %v", err)
		return ""
	}
	return resp.Content
}
