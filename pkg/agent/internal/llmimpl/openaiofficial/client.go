// Package openaiofficial adapts the OpenAI Chat Completions API, through the
// official openai-go SDK, to llm.LLMClient.
package openaiofficial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/tools"
)

// DefaultModel is used when the config leaves the model name empty.
const DefaultModel = "gpt-4.1"

// OfficialClient wraps the official OpenAI Go client.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw client; middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func convertMessages(messages []llm.CompletionMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case llm.RoleTool:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("tool call %s arguments: %w", tc.ID, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unsupported message role %q at index %d", msg.Role, i)
		}
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		out = append(out, openai.ChatCompletionToolParam{Function: shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(def.InputSchema.AsMap()),
		}})
	}
	return out
}

func toolChoice(choice string) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice {
	case llm.ToolChoiceAny:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case llm.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(float64(in.Temperature)),
	}
	if in.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(in.MaxTokens))
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = toolChoice(in.ToolChoice)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, status, "openai")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "no choices in OpenAI response")
	}

	choice := resp.Choices[0]
	result := llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: parseArguments(tc.Function.Arguments),
		})
	}
	return result, nil
}

// parseArguments decodes a tool call's JSON arguments. Malformed arguments become
// an empty map; the tool then reports the missing fields itself.
func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}
