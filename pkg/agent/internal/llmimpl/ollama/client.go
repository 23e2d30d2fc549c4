// Package ollama adapts a local Ollama server to llm.LLMClient.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/tools"
)

// DefaultHost is used when the configured host is empty or unparseable.
const DefaultHost = "http://localhost:11434"

// Client talks to one model on one Ollama server. Responses are never streamed.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a client for hostURL (e.g. "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	u, err := url.Parse(hostURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u, _ = url.Parse(DefaultHost)
	}
	return &Client{client: api.NewClient(u, http.DefaultClient), model: model, hostURL: u.String()}
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string { return o.model }

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.chatRequest(&in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	var last api.ChatResponse
	if err := o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		last = r
		return nil
	}); err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	return fromChatResponse(&last), nil
}

func (o *Client) chatRequest(in *llm.CompletionRequest) (*api.ChatRequest, error) {
	messages, err := toMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	stream := false
	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	req := &api.ChatRequest{Model: o.model, Messages: messages, Stream: &stream, Options: options}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		req.Tools = toTools(in.Tools)
	}
	return req, nil
}

func fromChatResponse(r *api.ChatResponse) llm.CompletionResponse {
	out := llm.CompletionResponse{
		Content:    r.Message.Content,
		StopReason: stopReason(r),
		Usage:      llm.Usage{InputTokens: r.PromptEvalCount, OutputTokens: r.EvalCount},
	}
	for i, call := range r.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		})
	}
	return out
}

// toMessages maps the conversation onto Ollama chat messages. Ollama has no
// batched tool turn, so every tool result becomes its own "tool" message.
func toMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("message list cannot be empty")
	}

	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleTool {
			for _, tr := range msg.ToolResults {
				out = append(out, api.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			continue
		}

		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			args := api.NewToolCallFunctionArguments()
			for k, v := range tc.Parameters {
				args.Set(k, v)
			}
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, m)
	}
	return out, nil
}

func toTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		props := api.NewToolPropertiesMap()
		for name, p := range def.InputSchema.Properties {
			props.Set(name, toProperty(&p))
		}
		schemaType := def.InputSchema.Type
		if schemaType == "" {
			schemaType = "object"
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       schemaType,
					Properties: props,
					Required:   def.InputSchema.Required,
				},
			},
		})
	}
	return out
}

// toProperty carries nested schemas through Items, the only free-form slot
// Ollama's property type has.
func toProperty(p *tools.Property) api.ToolProperty {
	out := api.ToolProperty{Type: api.PropertyType{p.Type}, Description: p.Description}
	for _, v := range p.Enum {
		out.Enum = append(out.Enum, v)
	}
	switch {
	case p.Items != nil:
		out.Items = p.Items.AsMap()
	case len(p.Properties) > 0:
		out.Items = p.AsMap()
	}
	return out
}

func stopReason(r *api.ChatResponse) string {
	if !r.Done {
		return "incomplete"
	}
	switch r.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return r.DoneReason
	}
}

// classifyError converts Ollama errors. Status errors use their HTTP code;
// a missing model is a bad prompt, an unreachable server is transient.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.Classify(err, statusErr.StatusCode, "ollama")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.Classify(err, 0, "ollama")
	}
}
