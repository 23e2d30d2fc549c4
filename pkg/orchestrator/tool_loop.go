package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/toolloop"
	"agentcore/pkg/contextmgr"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/toolexec"
)

// continueNudge is sent when the tool loop is entered without calls, which
// happens when the delivery gate finds open plan steps.
const continueNudge = "The plan still has open steps. Continue working on them now using the available tools."

// toolLoop executes the pending calls and resubmits until the model stops
// asking for tools or the run's tool budget is spent.
func (e *Engine) toolLoop(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodeToolLoop, ErrMissingResponse)
	}
	req := s.Request

	remaining := e.opts.Orchestration.MaxToolIterations - s.ToolIterations
	if remaining <= 0 {
		e.logger.Warn("⚠️  Tool budget of %d rounds spent, continuing without executing", e.opts.Orchestration.MaxToolIterations)
		s = s.withoutCalls()
		s.CutOff = true
		return s.goTo(NodePlanning), nil
	}

	sc, err := e.prepare(ctx, NodeToolLoop, s, policy.StageToolLoop, nil)
	if err != nil {
		return s, err
	}

	var executed []plan.Executed
	var lastResults []toolexec.Result
	cfg := &toolloop.Config{
		History: e.histories.For(req.ConversationID),
		Tools:   sc.tools,
		BuildRequest: func(h *contextmgr.ContextManager) llm.CompletionRequest {
			return e.request(s, sc, h.BuildMessages(sc.system))
		},
		ExecOptions: e.execOptions(req),
		OnRound: func(r toolloop.Round) {
			e.emitRound(req, r)
			for i, res := range r.Results {
				executed = append(executed, plan.Executed{Call: r.Calls[i], Succeeded: !res.Failed()})
			}
			lastResults = r.Results
		},
		MaxIterations: remaining,
	}
	if !s.Response.HasToolCalls() {
		cfg.Nudge = continueNudge
	}

	out, err := e.loop.Run(ctx, *s.Response, cfg)
	if err != nil {
		return s, internal(NodeToolLoop, err)
	}

	s.ToolIterations += out.Iterations
	s = s.withExecuted(executed...)
	if lastResults != nil {
		s = s.withToolResults(lastResults)
	}
	s = s.withResponse(out.Response, policy.StageToolLoop)
	// a fresh turn gets its own reformat budget
	s.ReasoningRetries = 0

	switch out.Kind {
	case toolloop.OutcomeSuccess:
		if out.Response.IsEmpty() {
			return s.goTo(NodeEmptyRecovery), nil
		}
		return s.goTo(NodePlanning), nil
	case toolloop.OutcomeMaxIterations:
		e.logger.Warn("⚠️  Tool budget reached after %d rounds, %d calls left unexecuted",
			s.ToolIterations, len(out.Response.ToolCalls))
		s = s.withoutCalls()
		s.CutOff = true
		return s.goTo(NodePlanning), nil
	case toolloop.OutcomeLLMError, toolloop.OutcomeCancelled:
		return s, out.Err
	default:
		return s, internal(NodeToolLoop, fmt.Errorf("unexpected tool loop outcome %s", out.Kind))
	}
}

// emitRound appends the caller-visible records of one executed batch.
func (e *Engine) emitRound(req Request, r toolloop.Round) {
	for i, res := range r.Results {
		call := r.Calls[i]
		args, _ := json.Marshal(call.Parameters) //nolint:errchkjson // decoded from JSON
		e.emit(req, Record{
			Role:       llm.RoleAssistant,
			Content:    string(args),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Status:     toolexec.StatusExecuting,
		})
		e.emit(req, Record{
			Role:       llm.RoleTool,
			Content:    res.Envelope.JSON(),
			ToolCallID: res.CallID,
			ToolName:   res.ToolName,
			Status:     res.Status(),
		})
	}
}
