package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/tools"
)

type stubClient struct {
	resp  llm.CompletionResponse
	calls int
}

func (s *stubClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	return s.resp, nil
}

func (s *stubClient) GetModelName() string { return "stub" }

func userRequest() llm.CompletionRequest {
	return llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")}}
}

func TestRejectsInvalidRequest(t *testing.T) {
	base := &stubClient{}
	client := Middleware()(base)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
	assert.Zero(t, base.calls, "invalid requests never reach the provider")

	req := userRequest()
	req.ToolChoice = llm.ToolChoiceAny
	_, err = client.Complete(context.Background(), req)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))

	req.Tools = []tools.ToolDefinition{{Name: "read_file"}}
	_, err = client.Complete(context.Background(), req)
	assert.NoError(t, err)
}

func TestNormalizesToolCalls(t *testing.T) {
	base := &stubClient{resp: llm.CompletionResponse{ToolCalls: []llm.ToolCall{
		{ID: "a", Name: " read_file "},
		{ID: "a", Name: "list_files"},
		{Name: ""},
		{Name: "search_files", Parameters: map[string]any{"pattern": "x"}},
	}}}

	resp, err := Middleware()(base).Complete(context.Background(), userRequest())
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 3)

	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "a", resp.ToolCalls[0].ID)
	assert.NotEqual(t, "a", resp.ToolCalls[1].ID, "duplicate ids are replaced")
	assert.NotEmpty(t, resp.ToolCalls[2].ID)
	assert.NotNil(t, resp.ToolCalls[0].Parameters)
	assert.Equal(t, "x", resp.ToolCalls[2].Parameters["pattern"])
}

func TestEmptyResponsePassesThrough(t *testing.T) {
	base := &stubClient{}
	resp, err := Middleware()(base).Complete(context.Background(), userRequest())
	require.NoError(t, err)
	assert.True(t, resp.IsEmpty())
}
