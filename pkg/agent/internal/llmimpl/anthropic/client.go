// Package anthropic adapts the Anthropic Messages API to llm.LLMClient.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/tools"
)

// DefaultModel is used when the config leaves the model name empty.
const DefaultModel = "claude-sonnet-4-5"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw client; middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// turn is one Anthropic message before conversion to the SDK type.
type turn struct {
	role   llm.CompletionRole
	blocks []anthropic.ContentBlockParamUnion
}

// ensureAlternation extracts system text and folds the conversation into strict
// user/assistant alternation. Tool results travel as user turns.
func ensureAlternation(messages []llm.CompletionMessage) (string, []turn, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var turns []turn
	push := func(role llm.CompletionRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			return
		}
		turns = append(turns, turn{role: role, blocks: blocks})
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				input := tc.Parameters
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				}})
			}
			push(llm.RoleAssistant, blocks...)
		case llm.RoleTool:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			push(llm.RoleUser, blocks...)
		case llm.RoleUser:
			if strings.TrimSpace(msg.Content) != "" {
				push(llm.RoleUser, anthropic.NewTextBlock(msg.Content))
			}
		default:
			return "", nil, fmt.Errorf("unsupported message role %q at index %d", msg.Role, i)
		}
	}

	if len(turns) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if turns[0].role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", turns[0].role)
	}
	if last := turns[len(turns)-1]; last.role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.role)
	}
	return strings.Join(systemParts, "\n\n"), turns, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.InputSchema.PropertiesMap(),
				Required:   def.InputSchema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func toolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case llm.ToolChoiceAny:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case llm.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, turns, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message alternation error")
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(t.blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(t.blocks...))
		}
	}

	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = toolChoice(in.ToolChoice)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, status, "anthropic")
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "nil response from Anthropic API")
	}

	var text strings.Builder
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			params := map[string]any{}
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &params); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "malformed tool input from Anthropic")
				}
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: use.ID, Name: use.Name, Parameters: params})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}
