package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
)

// MockStep is one scripted model turn.
type MockStep struct {
	Content   string         `yaml:"content"`
	ToolCalls []MockToolCall `yaml:"tool_calls"`
	Error     *MockStepError `yaml:"error"`
}

// MockToolCall is a scripted tool call.
type MockToolCall struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Parameters map[string]any `yaml:"parameters"`
}

// MockStepError makes a step fail with a classified error.
type MockStepError struct {
	Type    string `yaml:"type"`
	Message string `yaml:"message"`
}

type mockScript struct {
	Steps []MockStep `yaml:"steps"`
}

// MockLLMClient replays scripted turns in order and records every request.
// Once the script is exhausted the last step repeats.
type MockLLMClient struct {
	model    string
	steps    []MockStep
	mu       sync.Mutex
	next     int
	requests []llm.CompletionRequest
}

// NewMockLLMClient creates a mock client from steps.
func NewMockLLMClient(model string, steps ...MockStep) *MockLLMClient {
	if model == "" {
		model = "mock"
	}
	return &MockLLMClient{model: model, steps: steps}
}

// LoadMockScript reads a YAML or JSON script file with a top-level "steps" list.
func LoadMockScript(path, model string) (*MockLLMClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock script %s: %w", path, err)
	}
	var script mockScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse mock script %s: %w", path, err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("mock script %s has no steps", path)
	}
	return NewMockLLMClient(model, script.Steps...), nil
}

// Complete returns the next scripted step.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // context errors pass through
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return llm.CompletionResponse{}, nil
	}
	step := m.steps[min(m.next, len(m.steps)-1)]
	turn := m.next
	m.next++
	m.mu.Unlock()

	if step.Error != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(parseErrorType(step.Error.Type), step.Error.Message)
	}

	resp := llm.CompletionResponse{Content: step.Content, StopReason: "end_turn"}
	for i, tc := range step.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("mock_call_%d_%d", turn, i)
		}
		params := tc.Parameters
		if params == nil {
			params = map[string]any{}
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: id, Name: tc.Name, Parameters: params})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}
	return resp, nil
}

// GetModelName returns the configured model name.
func (m *MockLLMClient) GetModelName() string {
	return m.model
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many requests were made.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func parseErrorType(s string) llmerrors.ErrorType {
	switch s {
	case "rate_limit":
		return llmerrors.ErrorTypeRateLimit
	case "transient":
		return llmerrors.ErrorTypeTransient
	case "auth":
		return llmerrors.ErrorTypeAuth
	case "bad_prompt":
		return llmerrors.ErrorTypeBadPrompt
	case "service_unavailable":
		return llmerrors.ErrorTypeServiceUnavailable
	case "empty_response":
		return llmerrors.ErrorTypeEmptyResponse
	default:
		return llmerrors.ErrorTypeUnknown
	}
}
