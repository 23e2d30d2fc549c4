package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"agentcore/pkg/agent"
	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/graph"
	"agentcore/pkg/persistence"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/prompts"
	"agentcore/pkg/qa"
	"agentcore/pkg/reasoning"
	"agentcore/pkg/toolexec"
)

func seedPlan(t *testing.T, store plan.Store, text string) {
	t.Helper()
	_, err := store.Update(context.Background(), "conv-1", func(p plan.Plan) (plan.Plan, error) {
		p.Text = text
		return p, nil
	})
	require.NoError(t, err)
}

func TestChatModeNeverCarriesAgentMode(t *testing.T) {
	f := newFixture(t, nil,
		calls(tc("c1", "read_file", "a.go")),
		text("It reads the config."),
	)
	req := f.request(policy.ModeChat, "What does a.go do?")
	req.QAEnabled = true

	require.NoError(t, f.engine.Send(context.Background(), req))

	reqs := f.client.Requests()
	require.Len(t, reqs, 2, "QA and planning never run in chat mode")
	for i, r := range reqs {
		assert.Equal(t, policy.ModeChat, r.Meta.Mode, "request %d", i)
		require.Equal(t, llm.RoleSystem, r.Messages[0].Role)
		markers := prompts.Markers(r.Messages[0].Content)
		assert.Contains(t, markers, policy.ComponentModeChat)
		assert.NotContains(t, markers, policy.ComponentModeAgent)
		assert.Equal(t, []string{"read_file"}, toolNames(r), "request %d offers mutating tools", i)
	}
	assert.Equal(t, "It reads the config.", f.terminal(t).Answer)
	assert.Empty(t, f.write.Calls())
}

func TestToolBatchSerializesSamePathAndKeepsOrder(t *testing.T) {
	f := newFixture(t, nil,
		calls(
			tc("c1", "write_file", "x.go"),
			tc("c2", "write_file", "x.go"),
			tc("c3", "read_file", "y.go"),
		),
		text("Wrote x.go twice."),
	)
	f.write.delay = 30 * time.Millisecond

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "write x twice")))

	assert.False(t, f.write.Overlapped(), "writes to one path overlapped")
	assert.Equal(t, []string{"x.go", "x.go"}, f.write.Calls())

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Equal(t, llm.RoleTool, last.Role)
	require.Len(t, last.ToolResults, 3, "one result per call")
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, id, last.ToolResults[i].ToolCallID)
	}

	var toolRecords []Record
	for _, r := range f.sink.Records() {
		if r.Role == llm.RoleTool {
			toolRecords = append(toolRecords, r)
		}
	}
	require.Len(t, toolRecords, 3)
	for _, r := range toolRecords {
		assert.Equal(t, toolexec.StatusCompleted, r.Status)
	}

	executing := 0
	for _, ev := range f.sink.Events() {
		assert.Equal(t, "conv-1", ev.ConversationID)
		if ev.Status == toolexec.StatusExecuting {
			executing++
		}
	}
	assert.Equal(t, 3, executing)

	p, ok, err := f.plans.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "- [x] Write x.go", p.Text)
}

func TestDoneWithOpenPlanRoutesToToolLoop(t *testing.T) {
	f := newFixture(t, nil,
		text(block(reasoning.DeliveryDone)+"All finished."),
		calls(tc("c1", "write_file", "c.go")),
		text(block(reasoning.DeliveryDone)+"c.go written."),
	)
	seedPlan(t, f.plans, "- [x] Read notes\n- [x] Write a.go\n- [ ] Write c.go")

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "finish the work")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []policy.Stage{policy.StageDispatch, policy.StageDeliveryCorrection, policy.StageToolLoop}, stages(reqs))

	correction := reqs[1]
	assert.Contains(t, prompts.Markers(correction.Messages[0].Content), policy.ComponentDeliveryCorrection)
	assert.Contains(t, correction.Messages[0].Content, "- [ ] Write c.go")
	lastMsg := correction.Messages[len(correction.Messages)-1]
	assert.Equal(t, llm.RoleUser, lastMsg.Role)
	assert.Contains(t, lastMsg.Content, "1 of 3")

	assert.Equal(t, []string{"c.go"}, f.write.Calls())
	assert.Equal(t, "c.go written.", f.terminal(t).Answer)

	p, _, err := f.plans.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, p.Progress().IsComplete, "plan: %s", p.Text)

	outcomes, err := f.outcomes.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "run-1", outcomes[0].RunID)
	assert.True(t, outcomes[1].Done())
}

func TestNeedsWorkWithOpenPlanNudgesToolLoop(t *testing.T) {
	f := newFixture(t, nil,
		text(block(reasoning.DeliveryNeedsWork)+"Still working."),
		calls(tc("c1", "write_file", "c.go")),
		text(block(reasoning.DeliveryDone)+"Done now."),
	)
	seedPlan(t, f.plans, "- [x] Write a.go\n- [ ] Write c.go")

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "keep going")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []policy.Stage{policy.StageDispatch, policy.StageToolLoop, policy.StageToolLoop}, stages(reqs))
	msgs := reqs[1].Messages
	assert.Equal(t, llm.RoleUser, msgs[len(msgs)-1].Role)
	assert.Equal(t, continueNudge, msgs[len(msgs)-1].Content)
	assert.Equal(t, "Still working.", msgs[len(msgs)-2].Content, "reasoning is stripped from history")
	assert.Equal(t, "Done now.", f.terminal(t).Answer)
}

func TestDeliveryCorrectionsAreBounded(t *testing.T) {
	f := newFixture(t, nil, text(block(reasoning.DeliveryDone)+"Done, trust me."))
	seedPlan(t, f.plans, "- [ ] Write c.go")

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "finish")))

	corrections := 0
	for _, s := range stages(f.client.Requests()) {
		if s == policy.StageDeliveryCorrection {
			corrections++
		}
	}
	assert.Equal(t, 2, corrections)
	term := f.terminal(t)
	assert.Equal(t, StatusCompleted, term.Status)
	assert.Equal(t, "Done, trust me.", term.Answer)
}

func TestEmptyResponseGetsOneRecoveryThenFallback(t *testing.T) {
	f := newFixture(t, nil, text(""), text(""))

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "do something")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []policy.Stage{policy.StageDispatch, policy.StageEmptyRecovery}, stages(reqs))
	assert.Contains(t, prompts.Markers(reqs[1].Messages[0].Content), policy.ComponentEmptyRecovery)

	assert.Equal(t, FallbackMessage, f.terminal(t).Answer)
	records := f.sink.Records()
	last := records[len(records)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, FallbackMessage, last.Content)
}

func TestEmptyResponseRecovers(t *testing.T) {
	f := newFixture(t, nil, text(""), text("Recovered answer."))

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "do something")))

	assert.Equal(t, 2, f.client.CallCount())
	assert.Equal(t, "Recovered answer.", f.terminal(t).Answer)
}

func TestChatEmptyResponseFallsBackImmediately(t *testing.T) {
	f := newFixture(t, nil, text(""))

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeChat, "hello?")))

	assert.Equal(t, 1, f.client.CallCount())
	assert.Equal(t, FallbackMessage, f.terminal(t).Answer)
}

func TestQADoesNotChangeAnswer(t *testing.T) {
	const answer = "The answer is 42."

	plain := newFixture(t, nil, text(answer))
	require.NoError(t, plain.engine.Send(context.Background(), plain.request(policy.ModeAgent, "question")))

	reviewed := newFixture(t, nil,
		text(answer),
		text(`{"verdict": "warn", "summary": "one call failed", "findings": ["read_file returned nothing"]}`),
		text(`{"verdict": "pass", "summary": "looks right"}`),
	)
	req := reviewed.request(policy.ModeAgent, "question")
	req.QAEnabled = true
	require.NoError(t, reviewed.engine.Send(context.Background(), req))

	assert.Equal(t, plain.terminal(t).Answer, reviewed.terminal(t).Answer)

	reqs := reviewed.client.Requests()
	assert.Equal(t, []policy.Stage{policy.StageDispatch, policy.StageQAToolReview, policy.StageQAQualityReview}, stages(reqs))
	for _, r := range reqs[1:] {
		assert.Equal(t, []string{"read_file"}, toolNames(r), "QA is read-only")
	}

	term := reviewed.terminal(t)
	require.NotNil(t, term.QA)
	require.Len(t, term.QA.Stages, 2)
	assert.Equal(t, qa.VerdictWarn, term.QA.Verdict())

	var system []Record
	for _, r := range reviewed.sink.Records() {
		if r.Role == llm.RoleSystem {
			system = append(system, r)
		}
	}
	require.Len(t, system, 1)
	assert.True(t, strings.HasPrefix(system[0].Content, "QA review"))

	history := reviewed.engine.History("conv-1").GetMessages()
	last := history[len(history)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role, "QA report stays out of history by default")
	assert.Equal(t, answer, last.Content)
}

func TestQAFailureIsSkipped(t *testing.T) {
	f := newFixture(t, nil,
		text("Answer."),
		agent.MockStep{Error: &agent.MockStepError{Type: "transient", Message: "overloaded"}},
	)
	req := f.request(policy.ModeAgent, "question")
	req.QAEnabled = true

	require.NoError(t, f.engine.Send(context.Background(), req))

	term := f.terminal(t)
	assert.Equal(t, "Answer.", term.Answer)
	require.NotNil(t, term.QA)
	for _, st := range term.QA.Stages {
		assert.NotEmpty(t, st.Skipped)
	}
	assert.Equal(t, qa.Verdict(""), term.QA.Verdict())
}

func TestStrategicPlanKeepsPriorSteps(t *testing.T) {
	prior := "- [ ] Keep this\n- [x] Old done"
	f := newFixture(t, nil,
		calls(tc("c1", "write_file", "new.go")),
		text("finished"),
	)
	seedPlan(t, f.plans, prior)

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "add new.go")))

	p, _, err := f.plans.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	have := map[string]bool{}
	for _, it := range plan.ParseChecklist(p.Text) {
		have[it.Text] = it.Done
	}
	assert.Contains(t, have, "Keep this")
	assert.Contains(t, have, "Old done")
	assert.True(t, have["Write new.go"], "executed call marks its step: %s", p.Text)
	assert.Equal(t, "finished", f.terminal(t).Answer)
}

func TestToolBudgetCutOffAsksForFinalAnswer(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Orchestration.MaxToolIterations = 1 },
		calls(tc("c1", "read_file", "a.go")),
		calls(tc("c2", "read_file", "b.go")),
		text("Summary of work."),
	)

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "read everything")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []policy.Stage{policy.StageDispatch, policy.StageToolLoop, policy.StageFinal}, stages(reqs))
	assert.Empty(t, reqs[2].Tools)
	assert.Equal(t, []string{"a.go"}, f.read.Calls(), "calls past the budget never run")
	assert.Equal(t, "Summary of work.", f.terminal(t).Answer)
}

func TestReasoningCorrection(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Orchestration.ReasoningRequired = true },
		text("Answer without block."),
		text(block(reasoning.DeliveryDone)+"Answer fixed."),
	)

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "question")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, prompts.Markers(reqs[0].Messages[0].Content), policy.ComponentReasoningFormat)
	assert.Equal(t, policy.StageReasoningCorrection, reqs[1].Meta.Stage)
	assert.Contains(t, prompts.Markers(reqs[1].Messages[0].Content), policy.ComponentReasoningCorrection)
	assert.Empty(t, reqs[1].Tools)

	assert.Equal(t, "Answer fixed.", f.terminal(t).Answer)
	o, ok, err := f.outcomes.Latest(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, o.Done())

	for _, m := range f.engine.History("conv-1").GetMessages() {
		assert.NotContains(t, m.Content, "<reasoning>")
	}
}

func TestReasoningRetriesExhaustedKeepBestResponse(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Orchestration.ReasoningRequired = true }, text("No block here."))

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "question")))

	assert.Equal(t, 3, f.client.CallCount())
	assert.Equal(t, "No block here.", f.terminal(t).Answer)
}

func TestReasoningRetriesResetForToolLoopTurn(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Orchestration.ReasoningRequired = true
		o.Orchestration.MaxReasoningRetries = 1
		o.QA.Enabled = false
	},
		text("No block here."),
		text(block(reasoning.DeliveryDone)+"All finished."),
		calls(tc("c1", "write_file", "c.go")),
		text("Malformed again."),
		text(block(reasoning.DeliveryDone)+"c.go written."),
	)
	seedPlan(t, f.plans, "- [ ] Write c.go")

	require.NoError(t, f.engine.Send(context.Background(), f.request(policy.ModeAgent, "finish")))

	reqs := f.client.Requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, []policy.Stage{
		policy.StageDispatch,
		policy.StageReasoningCorrection,
		policy.StageDeliveryCorrection,
		policy.StageToolLoop,
		policy.StageReasoningCorrection,
	}, stages(reqs))
	last := reqs[4].Messages
	assert.Equal(t, reformatInstruction, last[len(last)-1].Content)
	assert.Equal(t, "c.go written.", f.terminal(t).Answer)
}

func TestMaxHopsIsInternalError(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Orchestration.MaxNodeHops = 2 }, text("answer"))

	err := f.engine.Send(context.Background(), f.request(policy.ModeAgent, "question"))
	require.Error(t, err)
	assert.True(t, IsInternal(err))
	assert.ErrorIs(t, err, graph.ErrMaxHops)

	term := f.terminal(t)
	assert.Equal(t, StatusFailed, term.Status)
	assert.Equal(t, 2, term.Hops)
}

func TestTransportErrorPropagates(t *testing.T) {
	f := newFixture(t, nil, agent.MockStep{Error: &agent.MockStepError{Type: "auth", Message: "bad key"}})

	err := f.engine.Send(context.Background(), f.request(policy.ModeAgent, "question"))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.False(t, IsInternal(err))

	assert.Equal(t, StatusFailed, f.terminal(t).Status)
	history := f.engine.History("conv-1").GetMessages()
	require.Len(t, history, 1)
	assert.Equal(t, llm.RoleUser, history[0].Role)
}

func TestCancelledCallsAreSkipped(t *testing.T) {
	f := newFixture(t, nil,
		calls(tc("c1", "write_file", "a.go"), tc("c2", "read_file", "b.go")),
		text("ok"),
	)
	req := f.request(policy.ModeAgent, "go")
	req.IsCancelled = func(id string) bool { return id == "c1" }

	require.NoError(t, f.engine.Send(context.Background(), req))

	assert.Empty(t, f.write.Calls())
	assert.Equal(t, []string{"b.go"}, f.read.Calls())
	status := map[string]toolexec.Status{}
	for _, r := range f.sink.Records() {
		if r.Role == llm.RoleTool {
			status[r.ToolCallID] = r.Status
		}
	}
	assert.Equal(t, toolexec.StatusSkipped, status["c1"])
	assert.Equal(t, toolexec.StatusCompleted, status["c2"])
}

func TestCancelledContextEndsRun(t *testing.T) {
	f := newFixture(t, nil, text("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.engine.Send(ctx, f.request(policy.ModeAgent, "question"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, f.terminal(t).Status)
	assert.Zero(t, f.client.CallCount())
}

func TestSendValidatesRequest(t *testing.T) {
	f := newFixture(t, nil, text("x"))

	req := f.request(policy.ModeAgent, "q")
	req.ConversationID = ""
	assert.ErrorIs(t, f.engine.Send(context.Background(), req), ErrInvalidRequest)

	req = f.request("root", "q")
	assert.ErrorIs(t, f.engine.Send(context.Background(), req), ErrInvalidRequest)

	req = f.request(policy.ModeAgent, "q")
	req.RunID = ""
	require.NoError(t, f.engine.Send(context.Background(), req))
	assert.NotEmpty(t, f.terminal(t).RunID)
}

func TestNodeWithoutResponseIsInternal(t *testing.T) {
	f := newFixture(t, nil)
	req, err := f.request(policy.ModeAgent, "q").normalize()
	require.NoError(t, err)

	for name, fn := range map[string]func(context.Context, State) (State, error){
		NodeToolLoop:             f.engine.toolLoop,
		NodePlanning:             f.engine.planning,
		NodeReasoningCorrections: f.engine.reasoningCorrections,
		NodeDeliveryGate:         f.engine.deliveryGate,
		NodeQA:                   f.engine.qaReview,
		NodeFinalResponse:        f.engine.finalResponse,
	} {
		_, err := fn(context.Background(), State{Request: req})
		assert.True(t, IsInternal(err), name)
		assert.ErrorIs(t, err, ErrMissingResponse, name)
	}
}

func TestConversationsAreSerialized(t *testing.T) {
	f := newFixture(t, nil, text("answer"))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := f.request(policy.ModeAgent, fmt.Sprintf("question %d", i))
			req.RunID = ""
			if i%2 == 1 {
				req.ConversationID = "conv-2"
			}
			assert.NoError(t, f.engine.Send(context.Background(), req))
		}()
	}
	wg.Wait()

	for _, conv := range []string{"conv-1", "conv-2"} {
		msgs := f.engine.History(conv).GetMessages()
		require.Len(t, msgs, 4, conv)
		for i, m := range msgs {
			want := llm.RoleUser
			if i%2 == 1 {
				want = llm.RoleAssistant
			}
			assert.Equal(t, want, m.Role, "%s message %d", conv, i)
		}
	}
	assert.Len(t, f.sink.Terminals(), 4)
}

func TestHistoryAndRunsPersist(t *testing.T) {
	store, err := persistence.OpenSQLite(t.TempDir() + "/agentcore.db")
	require.NoError(t, err)
	defer store.Close()

	engine := func(client llm.LLMClient) *Engine {
		e, err := New(Deps{
			Client:    client,
			Scheduler: toolexec.New(toolexec.DefaultConfig, nil),
			Plans:     store,
			Outcomes:  store,
			History:   store,
			Runs:      store,
		}, testOptions())
		require.NoError(t, err)
		return e
	}

	first := agent.NewMockLLMClient("mock", text("first answer"))
	req := Request{UserText: "first question", Mode: policy.ModeChat, ConversationID: "conv-1", RunID: "run-1"}
	require.NoError(t, engine(first).Send(context.Background(), req))

	second := agent.NewMockLLMClient("mock", text("second answer"))
	req = Request{UserText: "second question", Mode: policy.ModeChat, ConversationID: "conv-1", RunID: "run-2"}
	require.NoError(t, engine(second).Send(context.Background(), req))

	msgs := second.Requests()[0].Messages
	var contents []string
	for _, m := range msgs[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first question", "first answer", "second question"}, contents)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	assert.Positive(t, run.Hops)
}

func TestGraphHopsAreTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := agent.NewMockLLMClient("mock", text("answer"))
	e, err := New(Deps{
		Client:         client,
		Scheduler:      toolexec.New(toolexec.DefaultConfig, nil),
		Sink:           NewMemorySink(),
		TracerProvider: tp,
	}, testOptions())
	require.NoError(t, err)

	sink := e.sink.(*MemorySink)
	require.NoError(t, e.Send(context.Background(), Request{UserText: "q", Mode: policy.ModeChat, ConversationID: "c"}))

	nodes := 0
	for _, s := range exporter.GetSpans() {
		if s.Name == "graph.node" {
			nodes++
		}
	}
	term, ok := sink.Last()
	require.True(t, ok)
	assert.Equal(t, term.Hops, nodes)
}

func TestClassify(t *testing.T) {
	assert.True(t, IsInternal(classify(fmt.Errorf("wrapped: %w", graph.ErrUnknownNode))))
	assert.False(t, IsInternal(classify(errors.New("transport"))))
	assert.NoError(t, classify(nil))
}
