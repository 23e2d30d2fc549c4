package toolloop

import (
	"fmt"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/toolexec"
)

// OutcomeKind categorizes how a tool loop ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the model stopped requesting tools.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeMaxIterations means the iteration ceiling was hit while the model
	// was still requesting tools. Response holds the last, unexecuted turn.
	OutcomeMaxIterations

	// OutcomeLLMError means a resubmission failed. Err holds the transport error.
	OutcomeLLMError

	// OutcomeCancelled means the context ended between rounds.
	OutcomeCancelled
)

// String returns human-readable name for OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeMaxIterations:
		return "MaxIterations"
	case OutcomeLLMError:
		return "LLMError"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Round is one executed batch.
type Round struct {
	Calls   []llm.ToolCall
	Results []toolexec.Result
}

// Outcome is the result of one Run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Outcome struct {
	Kind OutcomeKind

	// Response is the latest model turn. For OutcomeSuccess it has no tool calls.
	Response llm.CompletionResponse

	// Rounds lists every executed batch in order.
	Rounds []Round

	// Iterations is the number of rounds executed by this Run.
	Iterations int

	// Nudged reports that a continuation request was issued before the first round.
	Nudged bool

	// Err is set for OutcomeLLMError and OutcomeCancelled.
	Err error
}

// LastResults returns the results of the final round, or nil.
func (o Outcome) LastResults() []toolexec.Result {
	if len(o.Rounds) == 0 {
		return nil
	}
	return o.Rounds[len(o.Rounds)-1].Results
}
