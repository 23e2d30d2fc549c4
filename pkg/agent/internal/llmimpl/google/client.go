// Package google adapts the Gemini API, through google.golang.org/genai, to llm.LLMClient.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/tools"
)

// DefaultModel is used when the config leaves the model name empty.
const DefaultModel = "gemini-2.5-pro"

// Client talks to one Gemini model.
type Client struct {
	apiKey  string
	baseURL string
	model   string

	mu  sync.Mutex
	sdk *genai.Client
	// Gemini wants thought signatures echoed back on the function call part
	// they came with, keyed here by tool call id.
	signatures map[string][]byte
}

// NewGeminiClientWithModel creates a client. The SDK client needs a context,
// so it is built on the first Complete.
func NewGeminiClientWithModel(apiKey, model, baseURL string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, model: model, signatures: map[string][]byte{}}
}

// GetModelName returns the model name for this client.
func (c *Client) GetModelName() string { return c.model }

func (c *Client) connect(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk != nil {
		return c.sdk, nil
	}
	cfg := &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	sdk, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.sdk = sdk
	return sdk, nil
}

func (c *Client) signatureFor(id string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signatures[id]
}

func (c *Client) keepSignatures(content *genai.Content) {
	if content == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range content.Parts {
		if p != nil && p.FunctionCall != nil && len(p.ThoughtSignature) > 0 {
			c.signatures[p.FunctionCall.ID] = p.ThoughtSignature
		}
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	sdk, err := c.connect(ctx)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "gemini client setup")
	}

	conv := converter{signature: c.signatureFor}
	contents, system, err := conv.contents(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	result, err := sdk.Models.GenerateContent(ctx, c.model, contents, generateConfig(&in, system))
	if err != nil {
		var apiErr genai.APIError
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, status, "gemini")
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "nil response from Gemini API")
	}
	if len(result.Candidates) > 0 {
		c.keepSignatures(result.Candidates[0].Content)
	}
	return fromResult(result), nil
}

func generateConfig(in *llm.CompletionRequest, system string) *genai.GenerateContentConfig {
	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if in.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(in.MaxTokens) //nolint:gosec // bounded by config validation
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(in.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(in.Tools)}}
		mode, ok := callingModes[in.ToolChoice]
		if !ok {
			mode = genai.FunctionCallingConfigModeAuto
		}
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}
	return cfg
}

//nolint:gochecknoglobals // lookup table
var callingModes = map[string]genai.FunctionCallingConfigMode{
	llm.ToolChoiceAuto: genai.FunctionCallingConfigModeAuto,
	llm.ToolChoiceAny:  genai.FunctionCallingConfigModeAny,
	llm.ToolChoiceNone: genai.FunctionCallingConfigModeNone,
}

func fromResult(result *genai.GenerateContentResponse) llm.CompletionResponse {
	out := llm.CompletionResponse{Content: result.Text(), StopReason: finishReason(result)}
	for i, fc := range result.FunctionCalls() {
		id := fc.ID
		if id == "" {
			// positional ids keep results matchable within the turn
			id = fmt.Sprintf("%s_%d", fc.Name, i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: fc.Name, Parameters: fc.Args})
	}
	if u := result.UsageMetadata; u != nil {
		out.Usage = llm.Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	return out
}

func finishReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return "unknown"
	}
	switch r := result.Candidates[0].FinishReason; r {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return strings.ToLower(string(r))
	}
}

// converter turns a conversation into Gemini contents. Function responses
// must name their function, so it remembers the name of every call it has
// seen.
type converter struct {
	signature func(id string) []byte
	names     map[string]string
}

func (cv *converter) contents(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("message list cannot be empty")
	}
	cv.names = make(map[string]string)

	var system []string
	out := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		content, err := cv.content(msg)
		if err != nil {
			return nil, "", err
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out, strings.Join(system, "\n\n"), nil
}

func (cv *converter) content(msg *llm.CompletionMessage) (*genai.Content, error) {
	switch msg.Role {
	case llm.RoleUser:
		return &genai.Content{Role: genai.RoleUser, Parts: textParts(msg.Content)}, nil

	case llm.RoleAssistant:
		parts := textParts(msg.Content)
		for _, tc := range msg.ToolCalls {
			cv.names[tc.ID] = tc.Name
			p := &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}}
			if cv.signature != nil {
				p.ThoughtSignature = cv.signature(tc.ID)
			}
			parts = append(parts, p)
		}
		return &genai.Content{Role: genai.RoleModel, Parts: parts}, nil

	case llm.RoleTool:
		parts := make([]*genai.Part, 0, len(msg.ToolResults))
		for _, tr := range msg.ToolResults {
			name, ok := cv.names[tr.ToolCallID]
			if !ok {
				return nil, fmt.Errorf("tool result %s has no matching call", tr.ToolCallID)
			}
			p := genai.NewPartFromFunctionResponse(name, map[string]any{"content": tr.Content, "is_error": tr.IsError})
			p.FunctionResponse.ID = tr.ToolCallID
			parts = append(parts, p)
		}
		return &genai.Content{Role: genai.RoleUser, Parts: parts}, nil

	default:
		return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
	}
}

func textParts(text string) []*genai.Part {
	if text == "" {
		return nil
	}
	return []*genai.Part{genai.NewPartFromText(text)}
}

func toDeclarations(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: toSchemas(def.InputSchema.Properties),
				Required:   def.InputSchema.Required,
			},
		})
	}
	return out
}

//nolint:gochecknoglobals // lookup table
var schemaTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func toSchemas(props map[string]tools.Property) map[string]*genai.Schema {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]*genai.Schema, len(props))
	for name, p := range props {
		out[name] = toSchema(p)
	}
	return out
}

// toSchema converts a property and its nested items or fields. Unknown
// types become strings.
func toSchema(p tools.Property) *genai.Schema {
	t, ok := schemaTypes[p.Type]
	if !ok {
		t = genai.TypeString
	}
	s := &genai.Schema{Type: t, Description: p.Description, Enum: p.Enum}
	switch t {
	case genai.TypeArray:
		if p.Items != nil {
			s.Items = toSchema(*p.Items)
		}
	case genai.TypeObject:
		s.Properties = toSchemas(p.Properties)
	}
	return s
}
