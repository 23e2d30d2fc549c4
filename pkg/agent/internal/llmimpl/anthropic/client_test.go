package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/tools"
)

func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectTurns  int
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful",
			expectTurns:  1,
		},
		{
			name: "multiple system messages concatenated",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewSystemMessage("And concise"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectTurns:  1,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewUserMessage("Anyone there?"),
			},
			expectTurns: 1,
		},
		{
			name: "tool results become a user turn",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("read it"),
				llm.NewAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "read_file", Parameters: map[string]any{"path": "a"}}}),
				llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "c1", Content: `{"status":"completed"}`}}),
			},
			expectTurns: 3,
		},
		{
			name: "ends with assistant returns error",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewAssistantMessage("Hi", nil),
			},
			errContains: "last message must be user",
		},
		{
			name: "starts with assistant returns error",
			input: []llm.CompletionMessage{
				llm.NewAssistantMessage("Hi", nil),
				llm.NewUserMessage("Hello"),
			},
			errContains: "first message must be user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, turns, err := ensureAlternation(tt.input)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSystem, system)
			assert.Len(t, turns, tt.expectTurns)
		})
	}
}

func TestToolBlocksCarryIDs(t *testing.T) {
	_, turns, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("go"),
		llm.NewAssistantMessage("checking", []llm.ToolCall{{ID: "c1", Name: "list_files"}}),
		llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "c1", Content: "{}", IsError: true}}),
	})
	require.NoError(t, err)

	assistant := turns[1]
	require.Len(t, assistant.blocks, 2)
	require.NotNil(t, assistant.blocks[1].OfToolUse)
	assert.Equal(t, "c1", assistant.blocks[1].OfToolUse.ID)
	assert.Equal(t, "list_files", assistant.blocks[1].OfToolUse.Name)

	results := turns[2]
	require.NotNil(t, results.blocks[0].OfToolResult)
	assert.Equal(t, "c1", results.blocks[0].OfToolResult.ToolUseID)
}

func TestConvertTools(t *testing.T) {
	defs := []tools.ToolDefinition{{
		Name:        "read_file",
		Description: "Read a file",
		InputSchema: tools.InputSchema{
			Type:       "object",
			Properties: map[string]tools.Property{"path": {Type: "string", Description: "file"}},
			Required:   []string{"path"},
		},
	}}
	out := convertTools(defs)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "read_file", out[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, out[0].OfTool.InputSchema.Required)
}

func TestToolChoice(t *testing.T) {
	assert.NotNil(t, toolChoice(llm.ToolChoiceAny).OfAny)
	assert.NotNil(t, toolChoice(llm.ToolChoiceNone).OfNone)
	assert.NotNil(t, toolChoice("").OfAuto)
}

func TestModelName(t *testing.T) {
	assert.Equal(t, DefaultModel, NewClaudeClientWithModel("k", "").GetModelName())
	assert.Equal(t, "claude-x", NewClaudeClientWithModel("k", "claude-x").GetModelName())
}
