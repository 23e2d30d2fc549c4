// Package llm defines the model transport contract used by the orchestrator.
package llm

import (
	"context"
	"fmt"
	"strings"

	"agentcore/pkg/policy"
	"agentcore/pkg/tools"
)

// CompletionRole is the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
	RoleTool      CompletionRole = "tool"
)

const (
	// TemperatureDefault is used when the config leaves temperature unset.
	TemperatureDefault = 0.3
	// DefaultMaxTokens bounds a response when the caller does not.
	DefaultMaxTokens = 4096
)

// Tool choice values.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceNone = "none"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// CompletionMessage is one message of a request.
// Assistant messages may carry ToolCalls; tool messages carry ToolResults.
type CompletionMessage struct {
	Role        CompletionRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// RequestMeta travels with every request. Transports must not alter Mode.
type RequestMeta struct {
	Mode             policy.Mode
	Stage            policy.Stage
	ProjectRoot      string
	ConversationID   string
	RunID            string
	PromptComponents []string
}

// CompletionRequest is a request for one model turn.
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
	Meta        RequestMeta
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse is one model turn.
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string
	Usage      Usage
}

// IsEmpty reports a turn with neither text nor tool calls.
func (r CompletionResponse) IsEmpty() bool {
	return len(r.ToolCalls) == 0 && strings.TrimSpace(r.Content) == ""
}

// HasToolCalls reports whether the model requested tools.
func (r CompletionResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// LLMClient is a model transport.
type LLMClient interface { //nolint:revive // established name
	// Complete runs one turn. Failures are returned as llmerrors types,
	// never as an empty success.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, calls []ToolCall) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates a message answering tool calls.
func NewToolMessage(results []ToolResult) CompletionMessage {
	return CompletionMessage{Role: RoleTool, ToolResults: results}
}

// Validate checks structural rules every provider relies on.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("completion request has no messages")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
