package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/tools"
)

func TestNewGeminiClientWithModel(t *testing.T) {
	assert.Equal(t, "gemini-2.5-flash", NewGeminiClientWithModel("key", "gemini-2.5-flash", "").GetModelName())
	assert.Equal(t, DefaultModel, NewGeminiClientWithModel("key", "", "").GetModelName())
}

func TestContents(t *testing.T) {
	tests := []struct {
		name        string
		messages    []llm.CompletionMessage
		wantSystem  string
		wantRoles   []string
		errContains string
	}{
		{
			name:        "empty messages",
			errContains: "message list cannot be empty",
		},
		{
			name: "system messages joined",
			messages: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewSystemMessage("And concise"),
				llm.NewUserMessage("Hello"),
			},
			wantSystem: "You are helpful\n\nAnd concise",
			wantRoles:  []string{"user"},
		},
		{
			name: "tool round trip",
			messages: []llm.CompletionMessage{
				llm.NewUserMessage("read a"),
				llm.NewAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "read_file", Parameters: map[string]any{"path": "a"}}}),
				llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "c1", Content: "{}"}}),
			},
			wantRoles: []string{"user", "model", "user"},
		},
		{
			name: "empty user turn dropped",
			messages: []llm.CompletionMessage{
				llm.NewUserMessage(""),
				llm.NewUserMessage("hi"),
			},
			wantRoles: []string{"user"},
		},
		{
			name: "orphan tool result rejected",
			messages: []llm.CompletionMessage{
				llm.NewUserMessage("x"),
				llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "ghost", Content: "{}"}}),
			},
			errContains: "no matching call",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cv converter
			contents, system, err := cv.contents(tt.messages)
			if tt.errContains != "" {
				require.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSystem, system)
			roles := make([]string, 0, len(contents))
			for _, c := range contents {
				roles = append(roles, c.Role)
			}
			assert.Equal(t, tt.wantRoles, roles)
		})
	}
}

func TestFunctionResponseCarriesNameAndSignature(t *testing.T) {
	cv := converter{signature: func(id string) []byte {
		if id == "c9" {
			return []byte("sig")
		}
		return nil
	}}
	contents, _, err := cv.contents([]llm.CompletionMessage{
		llm.NewUserMessage("go"),
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "c9", Name: "list_files"}}),
		llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "c9", Content: "{}", IsError: true}}),
	})
	require.NoError(t, err)
	require.Len(t, contents, 3)

	call := contents[1].Parts[0]
	assert.Equal(t, "sig", string(call.ThoughtSignature))
	assert.Equal(t, "c9", call.FunctionCall.ID)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "list_files", resp.Name)
	assert.Equal(t, "c9", resp.ID)
	assert.Equal(t, true, resp.Response["is_error"])
}

func TestToSchema(t *testing.T) {
	s := toSchema(tools.Property{
		Type:  "array",
		Items: &tools.Property{Type: "object", Properties: map[string]tools.Property{"n": {Type: "integer"}}},
	})
	require.NotNil(t, s.Items)
	assert.Equal(t, genai.TypeArray, s.Type)
	assert.Equal(t, genai.TypeObject, s.Items.Type)
	assert.Equal(t, genai.TypeInteger, s.Items.Properties["n"].Type)

	assert.Equal(t, genai.TypeString, toSchema(tools.Property{Type: "mystery"}).Type)
	assert.Equal(t, []string{"a", "b"}, toSchema(tools.Property{Type: "string", Enum: []string{"a", "b"}}).Enum)
}

func TestGenerateConfig(t *testing.T) {
	def := tools.ToolDefinition{Name: "read_file", InputSchema: tools.InputSchema{Type: "object"}}

	cfg := generateConfig(&llm.CompletionRequest{MaxTokens: 100, Tools: []tools.ToolDefinition{def}, ToolChoice: llm.ToolChoiceNone}, "sys")
	assert.EqualValues(t, 100, cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "read_file", cfg.Tools[0].FunctionDeclarations[0].Name)
	assert.Equal(t, genai.FunctionCallingConfigModeNone, cfg.ToolConfig.FunctionCallingConfig.Mode)

	cfg = generateConfig(&llm.CompletionRequest{Tools: []tools.ToolDefinition{def}}, "")
	assert.Nil(t, cfg.SystemInstruction)
	assert.Equal(t, genai.FunctionCallingConfigModeAuto, cfg.ToolConfig.FunctionCallingConfig.Mode)

	assert.Nil(t, generateConfig(&llm.CompletionRequest{}, "").ToolConfig)
}

func TestFromResult(t *testing.T) {
	res := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{ID: "x", Name: "read_file"}},
				{FunctionCall: &genai.FunctionCall{Name: "list_files"}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 3},
	}

	out := fromResult(res)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, llm.Usage{InputTokens: 12, OutputTokens: 3}, out.Usage)
	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "x", out.ToolCalls[0].ID)
	assert.Equal(t, "list_files_1", out.ToolCalls[1].ID)
}

func TestFinishReason(t *testing.T) {
	assert.Equal(t, "unknown", finishReason(nil))
	withReason := func(r genai.FinishReason) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: r}}}
	}
	assert.Equal(t, "max_tokens", finishReason(withReason(genai.FinishReasonMaxTokens)))
	assert.Equal(t, "end_turn", finishReason(withReason("")))
	assert.Equal(t, "safety", finishReason(withReason("SAFETY")))
}
