package toolexec

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/tools"
)

// fakeTool records concurrency per target path and overall.
type fakeTool struct {
	name       string
	capability tools.Capability
	delay      time.Duration
	output     string
	err        error
	panicMsg   string
	ignoreCtx  bool

	mu        sync.Mutex
	active    map[string]int
	maxByPath map[string]int
	calls     atomic.Int32
	order     []string
	// shared, when set, tracks overlap across every tool holding it
	shared *overlap
}

// overlap counts how many calls are inside Exec at once.
type overlap struct {
	mu          sync.Mutex
	active, max int
}

func (o *overlap) enter() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active++
	o.max = max(o.max, o.active)
}

func (o *overlap) leave() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active--
}

func newFakeTool(name string, capability tools.Capability) *fakeTool {
	return &fakeTool{
		name:       name,
		capability: capability,
		output:     `{"success":true}`,
		active:     map[string]int{},
		maxByPath:  map[string]int{},
	}
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Capability() tools.Capability { return f.capability }
func (f *fakeTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{Name: f.name, InputSchema: tools.InputSchema{Type: "object"}}
}

func (f *fakeTool) Preview(args map[string]any) string {
	p, _ := args["path"].(string)
	return "preview " + p
}

func (f *fakeTool) Exec(ctx context.Context, args map[string]any) (*tools.ExecResult, error) {
	f.calls.Add(1)
	path, _ := args["path"].(string)
	tag, _ := args["tag"].(string)

	f.mu.Lock()
	f.active[path]++
	if f.active[path] > f.maxByPath[path] {
		f.maxByPath[path] = f.active[path]
	}
	f.order = append(f.order, tag)
	f.mu.Unlock()
	if f.shared != nil {
		f.shared.enter()
		defer f.shared.leave()
	}

	defer func() {
		f.mu.Lock()
		f.active[path]--
		f.mu.Unlock()
	}()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tools.ExecResult{Content: f.output}, nil
}

func tc(id, name, path string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Parameters: map[string]any{"path": path, "tag": id}}
}

func decode(t *testing.T, r Result) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(r.ToolResult().Content), &env))
	return env
}

func TestSamePathMutationsAreSerialized(t *testing.T) {
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	writer.delay = 20 * time.Millisecond
	set := tools.MustSet(writer)

	calls := []llm.ToolCall{
		tc("c1", "write_file", "a.go"),
		tc("c2", "write_file", "./a.go"),
		tc("c3", "write_file", "a.go"),
		tc("c4", "write_file", "b.go"),
	}
	results := New(Config{MaxConcurrency: 8}, nil).Run(context.Background(), set, calls, Options{})

	require.Len(t, results, 4)
	assert.Equal(t, 1, writer.maxByPath["a.go"], "same cleaned path must never overlap")

	var aOrder []string
	for _, tag := range writer.order {
		if tag != "c4" {
			aOrder = append(aOrder, tag)
		}
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, aOrder, "same-path calls keep issue order")
}

func TestOneFileSerializedAcrossSpellingsAndTools(t *testing.T) {
	shared := &overlap{}
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	editor := newFakeTool("edit_file", tools.Mutates(tools.EffectReplace, "path"))
	for _, f := range []*fakeTool{writer, editor} {
		f.delay = 30 * time.Millisecond
		f.shared = shared
	}
	set := tools.MustSet(writer, editor)

	calls := []llm.ToolCall{
		tc("c1", "write_file", "a.go"),
		tc("c2", "edit_file", "/work/proj/a.go"),
		tc("c3", "write_file", "/work/proj/./a.go"),
		tc("c4", "edit_file", "a.go"),
	}
	results := New(Config{MaxConcurrency: 8}, nil).Run(context.Background(), set, calls, Options{ProjectRoot: "/work/proj"})

	require.Len(t, results, 4)
	assert.Equal(t, 1, shared.max, "absolute and relative spellings of one file must not overlap")
	assert.Equal(t, []string{"c1", "c3"}, writer.order)
	assert.Equal(t, []string{"c2", "c4"}, editor.order)
}

func TestDifferentFilesStillRunConcurrently(t *testing.T) {
	shared := &overlap{}
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	writer.delay = 50 * time.Millisecond
	writer.shared = shared
	set := tools.MustSet(writer)

	calls := []llm.ToolCall{tc("c1", "write_file", "a.go"), tc("c2", "write_file", "/work/proj/b.go")}
	New(Config{MaxConcurrency: 4}, nil).Run(context.Background(), set, calls, Options{ProjectRoot: "/work/proj"})

	assert.Equal(t, 2, shared.max, "distinct files keep separate lanes")
}

func TestReadOnlyCallsRunConcurrently(t *testing.T) {
	reader := newFakeTool("read_file", tools.ReadOnly())
	reader.delay = 50 * time.Millisecond
	set := tools.MustSet(reader)

	calls := []llm.ToolCall{tc("r1", "read_file", "a.go"), tc("r2", "read_file", "a.go"), tc("r3", "read_file", "a.go")}
	New(Config{MaxConcurrency: 3}, nil).Run(context.Background(), set, calls, Options{})

	assert.Greater(t, reader.maxByPath["a.go"], 1, "read-only calls on one path may overlap")
}

func TestConcurrencyBound(t *testing.T) {
	reader := newFakeTool("read_file", tools.ReadOnly())
	reader.delay = 30 * time.Millisecond
	set := tools.MustSet(reader)

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = tc("r"+string(rune('a'+i)), "read_file", "")
	}
	New(Config{MaxConcurrency: 2}, nil).Run(context.Background(), set, calls, Options{})
	assert.LessOrEqual(t, reader.maxByPath[""], 2)
}

func TestResultsMatchCallsInIssueOrder(t *testing.T) {
	slow := newFakeTool("slow", tools.ReadOnly())
	slow.delay = 40 * time.Millisecond
	fast := newFakeTool("fast", tools.ReadOnly())
	set := tools.MustSet(slow, fast)

	calls := []llm.ToolCall{tc("s1", "slow", "x"), tc("f1", "fast", "y"), tc("u1", "missing", "z"), tc("f2", "fast", "w")}
	results := New(Config{MaxConcurrency: 4}, nil).Run(context.Background(), set, calls, Options{})

	require.Len(t, results, len(calls))
	for i := range calls {
		assert.Equal(t, calls[i].ID, results[i].CallID)
		assert.Equal(t, calls[i].Name, results[i].ToolName)
	}
	assert.Equal(t, ReasonUnknownTool, results[2].Envelope.Reason)
	assert.Equal(t, StatusFailed, results[2].Status())
}

func TestCancelledCallsAreNeverExecuted(t *testing.T) {
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	set := tools.MustSet(writer)

	var events []Event
	results := New(Config{}, nil).Run(context.Background(), set,
		[]llm.ToolCall{tc("keep", "write_file", "a"), tc("drop", "write_file", "b")},
		Options{
			IsCancelled: func(id string) bool { return id == "drop" },
			OnProgress:  func(ev Event) { events = append(events, ev) },
		})

	assert.Equal(t, int32(1), writer.calls.Load())
	assert.Equal(t, StatusCompleted, results[0].Status())
	assert.Equal(t, StatusSkipped, results[1].Status())
	assert.Equal(t, ReasonCancelled, decode(t, results[1]).Reason)
	assert.True(t, results[1].ToolResult().IsError)

	for _, ev := range events {
		if ev.CallID == "drop" {
			assert.NotEqual(t, StatusExecuting, ev.Status, "skipped calls never report executing")
		}
	}
}

func TestProgressEvents(t *testing.T) {
	reader := newFakeTool("read_file", tools.ReadOnly())
	set := tools.MustSet(reader)

	var mu sync.Mutex
	inCallback := 0
	var events []Event
	New(Config{MaxConcurrency: 4}, nil).Run(context.Background(), set,
		[]llm.ToolCall{tc("a", "read_file", "1"), tc("b", "read_file", "2"), tc("c", "read_file", "3")},
		Options{OnProgress: func(ev Event) {
			mu.Lock()
			inCallback++
			assert.Equal(t, 1, inCallback, "callbacks must be serialized")
			mu.Unlock()
			events = append(events, ev)
			mu.Lock()
			inCallback--
			mu.Unlock()
		}})

	require.Len(t, events, 6)
	seen := map[string][]Status{}
	for _, ev := range events {
		assert.Equal(t, "read_file", ev.ToolName)
		seen[ev.CallID] = append(seen[ev.CallID], ev.Status)
		if ev.Status == StatusExecuting {
			assert.True(t, strings.HasPrefix(ev.Preview, "preview "))
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []Status{StatusExecuting, StatusCompleted}, seen[id])
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	boom := newFakeTool("boom", tools.ReadOnly())
	boom.panicMsg = "kaboom"
	soft := newFakeTool("soft", tools.ReadOnly())
	soft.output = `{"success":false,"error":"file not found"}`
	hard := newFakeTool("hard", tools.ReadOnly())
	hard.err = assert.AnError
	ok := newFakeTool("ok", tools.ReadOnly())
	set := tools.MustSet(boom, soft, hard, ok)

	results := New(Config{}, nil).Run(context.Background(), set,
		[]llm.ToolCall{tc("1", "boom", ""), tc("2", "soft", ""), tc("3", "hard", ""), tc("4", "ok", "")}, Options{})

	assert.Equal(t, ReasonPanic, results[0].Envelope.Reason)
	assert.Equal(t, ReasonToolError, results[1].Envelope.Reason)
	assert.Equal(t, "file not found", results[1].Envelope.Message)
	assert.Equal(t, ReasonExecError, results[2].Envelope.Reason)
	assert.Equal(t, StatusCompleted, results[3].Status())
}

func TestCallTimeout(t *testing.T) {
	stuck := newFakeTool("stuck", tools.ReadOnly())
	stuck.delay = 2 * time.Second
	stuck.ignoreCtx = true
	set := tools.MustSet(stuck)

	start := time.Now()
	results := New(Config{CallTimeout: 30 * time.Millisecond}, nil).Run(context.Background(), set,
		[]llm.ToolCall{tc("t", "stuck", "")}, Options{})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ReasonTimeout, results[0].Envelope.Reason)
}

func TestOutputTruncation(t *testing.T) {
	big := newFakeTool("big", tools.ReadOnly())
	big.output = `{"success":true,"content":"` + strings.Repeat("é", 600) + `"}`
	set := tools.MustSet(big)

	results := New(Config{OutputLimit: 301}, nil).Run(context.Background(), set, []llm.ToolCall{tc("b", "big", "")}, Options{})
	env := decode(t, results[0])
	assert.True(t, env.Truncated)
	assert.LessOrEqual(t, len(env.Payload), 301)
	assert.True(t, strings.HasSuffix(env.Payload, "é"), "truncation keeps whole runes")
}

func TestCancelledContextSkipsPendingCalls(t *testing.T) {
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	set := tools.MustSet(writer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := New(Config{}, nil).Run(ctx, set, []llm.ToolCall{tc("a", "write_file", "x"), tc("b", "write_file", "x")}, Options{})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StatusSkipped, r.Status())
	}
	assert.Equal(t, int32(0), writer.calls.Load())
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
}

func (o *recordingObserver) ObserveToolCall(_ string, status Status, _ string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func TestObserverSeesEveryCall(t *testing.T) {
	obs := &recordingObserver{}
	set := tools.MustSet(newFakeTool("ok", tools.ReadOnly()))
	New(Config{}, obs).Run(context.Background(), set, []llm.ToolCall{tc("1", "ok", ""), tc("2", "nope", "")}, Options{})
	assert.ElementsMatch(t, []Status{StatusCompleted, StatusFailed}, obs.statuses)
}

func TestPlanLanes(t *testing.T) {
	writer := newFakeTool("write_file", tools.Mutates(tools.EffectWrite, "path"))
	reader := newFakeTool("read_file", tools.ReadOnly())
	set := tools.MustSet(writer, reader)

	lanes := planLanes(set, []llm.ToolCall{
		tc("1", "write_file", "a"),
		tc("2", "read_file", "a"),
		tc("3", "write_file", "a/../a"),
		tc("4", "write_file", "b"),
		{ID: "5", Name: "write_file", Parameters: map[string]any{}},
	}, "")
	require.Len(t, lanes, 4)
	assert.Equal(t, []int{0, 2}, lanes[0].indices)
	assert.Equal(t, "path:a", lanes[0].key)

	rooted := planLanes(set, []llm.ToolCall{
		tc("1", "write_file", "/repo/a"),
		tc("2", "write_file", "a"),
		tc("3", "write_file", "/other/a"),
	}, "/repo")
	require.Len(t, rooted, 2)
	assert.Equal(t, []int{0, 1}, rooted[0].indices)
	assert.Equal(t, "path:/other/a", rooted[1].key)
}
