package toolexec

import (
	"encoding/json"
	"strings"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/utils"
)

// Status is the lifecycle state of a call as seen by observers.
type Status string

const (
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusSkipped marks a call that was never executed.
	StatusSkipped Status = "skipped"
)

// Stable failure reasons.
const (
	ReasonCancelled   = "cancelled"
	ReasonUnknownTool = "unknown_tool"
	ReasonPanic       = "panic"
	ReasonTimeout     = "timeout"
	ReasonToolError   = "tool_error"
	ReasonExecError   = "exec_error"
	ReasonAborted     = "aborted"
)

// Envelope is the JSON document handed back to the model for one call.
type Envelope struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Truncated bool   `json:"truncated"`
}

// JSON renders the envelope. Marshalling a struct of strings cannot fail.
func (e Envelope) JSON() string {
	b, _ := json.Marshal(e) //nolint:errchkjson // plain string fields
	return string(b)
}

// Result is the outcome of one call. Exactly one Result exists per issued call.
type Result struct {
	CallID   string
	ToolName string
	Envelope Envelope
}

// Status returns the terminal status.
func (r Result) Status() Status { return r.Envelope.Status }

// Failed reports a failed or skipped call.
func (r Result) Failed() bool { return r.Envelope.Status != StatusCompleted }

// ToolResult converts r to the message form the model sees.
func (r Result) ToolResult() llm.ToolResult {
	return llm.ToolResult{
		ToolCallID: r.CallID,
		Content:    r.Envelope.JSON(),
		IsError:    r.Failed(),
	}
}

// ToolResults converts a batch, preserving order.
func ToolResults(results []Result) []llm.ToolResult {
	out := make([]llm.ToolResult, len(results))
	for i := range results {
		out[i] = results[i].ToolResult()
	}
	return out
}

func bounded(payload string, limit int) (string, bool) {
	if limit <= 0 {
		return payload, false
	}
	return utils.TruncateUTF8(payload, limit)
}

// interpret turns tool output into an envelope. Output that is a JSON object
// with "success": false is a failure; anything else completed.
func interpret(output string, limit int) Envelope {
	env := Envelope{Status: StatusCompleted, Message: "ok"}
	var probe struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(output), &probe); err == nil && probe.Success != nil && !*probe.Success {
		env.Status = StatusFailed
		env.Reason = ReasonToolError
		env.Message = strings.TrimSpace(probe.Error)
		if env.Message == "" {
			env.Message = "tool reported failure"
		}
	}
	env.Payload, env.Truncated = bounded(output, limit)
	return env
}

func failure(reason, message string) Envelope {
	return Envelope{Status: StatusFailed, Reason: reason, Message: message}
}

func skipped(reason, message string) Envelope {
	return Envelope{Status: StatusSkipped, Reason: reason, Message: message}
}
