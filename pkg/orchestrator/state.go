package orchestrator

import (
	"agentcore/pkg/agent/llm"
	"agentcore/pkg/graph"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/qa"
	"agentcore/pkg/reasoning"
	"agentcore/pkg/toolexec"
)

// Node ids.
const (
	NodeDispatcher           = "dispatcher"
	NodeToolLoop             = "tool_loop"
	NodePlanning             = "planning"
	NodeReasoningCorrections = "reasoning_corrections"
	NodeDeliveryGate         = "delivery_gate"
	NodeQA                   = "qa"
	NodeFinalResponse        = "final_response"
	NodePostFinal            = "post_final"
	NodeEmptyRecovery        = "empty_recovery"
)

// FallbackMessage replaces an answer that is still empty after recovery.
const FallbackMessage = "I wasn't able to produce a response for this request. Please try rephrasing it or provide more detail."

// State is the record passed from node to node. Nodes receive it by value and
// return a new one; slices are copied before they are extended so an earlier
// state is never changed by a later node.
//
//nolint:govet // fieldalignment: grouped by concern
type State struct {
	Request Request

	// Response is the latest model turn, nil before the dispatcher runs.
	Response *llm.CompletionResponse
	// ResponseStage is the stage that produced Response. Reformatting keeps it.
	ResponseStage policy.Stage

	// ToolResults is the most recent executed batch.
	ToolResults []toolexec.Result

	Next graph.Transition

	ToolIterations      int
	ReasoningRetries    int
	DeliveryCorrections int
	Hops                int

	Outcome  *reasoning.Outcome
	Answer   string
	QAReport *qa.Report

	RecoveryUsed bool
	Planned      bool
	// CutOff is set when the tool budget ran out with calls still pending.
	CutOff bool

	// Proposed are the calls of the first turn, used for strategic planning.
	Proposed []llm.ToolCall
	// Executed accumulates finished calls until planning consumes them.
	Executed []plan.Executed
}

// Transition implements graph.State.
func (s State) Transition() graph.Transition { return s.Next }

func (s State) goTo(id string) State {
	s.Next = graph.Next(id)
	return s
}

func (s State) end() State {
	s.Next = graph.End()
	return s
}

func (s State) withResponse(resp llm.CompletionResponse, stage policy.Stage) State {
	s.Response = &resp
	s.ResponseStage = stage
	return s
}

// withoutCalls drops pending calls that will never execute.
func (s State) withoutCalls() State {
	if s.Response == nil || !s.Response.HasToolCalls() {
		return s
	}
	resp := *s.Response
	resp.ToolCalls = nil
	s.Response = &resp
	return s
}

func (s State) withExecuted(more ...plan.Executed) State {
	out := make([]plan.Executed, 0, len(s.Executed)+len(more))
	out = append(out, s.Executed...)
	s.Executed = append(out, more...)
	return s
}

func (s State) withToolResults(results []toolexec.Result) State {
	s.ToolResults = append([]toolexec.Result(nil), results...)
	return s
}

func (s State) mode() policy.Mode { return s.Request.Mode }

// candidate is the answer text the current response would produce.
func (s State) candidate() string {
	if s.Response == nil {
		return ""
	}
	return reasoning.Strip(s.Response.Content)
}
