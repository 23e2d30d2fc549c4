package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent"
	"agentcore/pkg/agent/llm"
	"agentcore/pkg/config"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/reasoning"
	"agentcore/pkg/toolexec"
	"agentcore/pkg/tools"
)

// fileTool records its calls and detects overlapping calls on one path.
type fileTool struct {
	name       string
	capability tools.Capability
	delay      time.Duration

	mu      sync.Mutex
	calls   []string
	active  map[string]int
	overlap bool
}

func newFileTool(name string, capability tools.Capability) *fileTool {
	return &fileTool{name: name, capability: capability, active: map[string]int{}}
}

func (f *fileTool) Name() string                 { return f.name }
func (f *fileTool) Capability() tools.Capability { return f.capability }
func (f *fileTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        f.name,
		Description: f.name + " a file",
		InputSchema: tools.InputSchema{
			Type:       "object",
			Properties: map[string]tools.Property{"path": {Type: "string"}},
			Required:   []string{"path"},
		},
	}
}

func (f *fileTool) Exec(ctx context.Context, args map[string]any) (*tools.ExecResult, error) {
	path, _ := args["path"].(string)
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.active[path]++
	if f.active[path] > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active[path]--
	f.mu.Unlock()
	return &tools.ExecResult{Content: `{"success": true, "path": "` + path + `"}`}, nil
}

func (f *fileTool) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fileTool) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

type fixture struct {
	engine   *Engine
	client   *agent.MockLLMClient
	sink     *MemorySink
	plans    *plan.MemoryStore
	outcomes *reasoning.MemoryStore
	read     *fileTool
	write    *fileTool
	tools    *tools.Set
}

func testOptions() Options {
	return Options{
		Orchestration: config.OrchestrationConfig{
			MaxNodeHops:            64,
			MaxToolIterations:      10,
			MaxReasoningRetries:    2,
			MaxDeliveryCorrections: 2,
		},
		QA: config.QAConfig{
			Enabled:       true,
			Timeout:       config.Duration(5 * time.Second),
			MaxToolRounds: 2,
		},
		MaxTokens: 1024,
	}
}

func newFixture(t *testing.T, mutate func(*Options), steps ...agent.MockStep) *fixture {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	f := &fixture{
		client:   agent.NewMockLLMClient("mock", steps...),
		sink:     NewMemorySink(),
		plans:    plan.NewMemoryStore(),
		outcomes: reasoning.NewMemoryStore(),
		read:     newFileTool("read_file", tools.ReadOnly()),
		write:    newFileTool("write_file", tools.Mutates(tools.EffectWrite, "path")),
	}
	f.tools = tools.MustSet(f.read, f.write)
	e, err := New(Deps{
		Client:    f.client,
		Scheduler: toolexec.New(toolexec.Config{MaxConcurrency: 4}, nil),
		Plans:     f.plans,
		Outcomes:  f.outcomes,
		Sink:      f.sink,
	}, opts)
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) request(mode policy.Mode, text string) Request {
	return Request{
		UserText:       text,
		Mode:           mode,
		ProjectRoot:    "/work/project",
		ConversationID: "conv-1",
		RunID:          "run-1",
		Tools:          f.tools,
	}
}

func (f *fixture) terminal(t *testing.T) Terminal {
	t.Helper()
	term, ok := f.sink.Last()
	require.True(t, ok, "no terminal state emitted")
	return term
}

func text(content string) agent.MockStep {
	return agent.MockStep{Content: content}
}

func calls(tcs ...agent.MockToolCall) agent.MockStep {
	return agent.MockStep{ToolCalls: tcs}
}

func tc(id, name, path string) agent.MockToolCall {
	return agent.MockToolCall{ID: id, Name: name, Parameters: map[string]any{"path": path}}
}

func block(delivery reasoning.Delivery) string {
	return "<reasoning>\nPLAN_DELTA: none\nNEXT_ACTION: report\nRISKS: none\nDELIVERY: " + string(delivery) + "\n</reasoning>\n"
}

func stages(reqs []llm.CompletionRequest) []policy.Stage {
	out := make([]policy.Stage, len(reqs))
	for i, r := range reqs {
		out[i] = r.Meta.Stage
	}
	return out
}

func toolNames(req llm.CompletionRequest) []string {
	names := make([]string, 0, len(req.Tools))
	for _, d := range req.Tools {
		names = append(names, d.Name)
	}
	return names
}
