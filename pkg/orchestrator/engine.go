// Package orchestrator runs one user message through the node graph:
// dispatch, tool rounds, planning, reasoning checks, the delivery gate,
// advisory QA and the final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/toolloop"
	"agentcore/pkg/config"
	"agentcore/pkg/contextmgr"
	"agentcore/pkg/graph"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/plan"
	"agentcore/pkg/policy"
	"agentcore/pkg/prompts"
	"agentcore/pkg/qa"
	"agentcore/pkg/reasoning"
	"agentcore/pkg/toolexec"
)

// HistoryStore persists conversation histories between processes.
type HistoryStore interface {
	LoadHistory(ctx context.Context, conversationID string, into *contextmgr.ContextManager) (bool, error)
	SaveHistory(ctx context.Context, conversationID string, from *contextmgr.ContextManager) error
}

// RunLog records the lifecycle of each run.
type RunLog interface {
	StartRun(ctx context.Context, runID, conversationID, mode string) error
	FinishRun(ctx context.Context, runID, status string, hops int, errMsg string) error
}

// Deps are the collaborators of an Engine. Client and Scheduler are required;
// everything else has an in-memory or no-op default.
type Deps struct {
	Client    llm.LLMClient
	Scheduler *toolexec.Scheduler
	Catalog   *prompts.Catalog
	Plans     plan.Store
	Outcomes  reasoning.OutcomeStore
	History   HistoryStore
	Runs      RunLog
	Metrics   *metrics.Orchestration
	Sink      Sink
	// TracerProvider overrides the global provider for graph spans.
	TracerProvider trace.TracerProvider
}

// Options are the budgets and request shaping of an Engine.
type Options struct {
	Orchestration config.OrchestrationConfig
	QA            config.QAConfig
	MaxTokens     int
	Temperature   float32
}

// OptionsFromConfig extracts engine options from the runtime config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Orchestration: cfg.Orchestration,
		QA:            cfg.QA,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   float32(cfg.Model.Temperature),
	}
}

// Engine is the single entry point for messages. Runs for one conversation
// are serialized; different conversations run independently.
type Engine struct {
	client    llm.LLMClient
	scheduler *toolexec.Scheduler
	loop      *toolloop.ToolLoop
	reviewer  *qa.Reviewer
	policy    policy.Policy
	catalog   *prompts.Catalog
	plans     plan.Store
	outcomes  reasoning.OutcomeStore
	store     HistoryStore
	runs      RunLog
	metrics   *metrics.Orchestration
	sink      Sink
	histories *contextmgr.Registry
	graph     *graph.Graph[State]
	opts      Options
	logger    *logx.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	loaded map[string]bool
}

// New creates an engine with the standard topology.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Client == nil || deps.Scheduler == nil {
		return nil, errors.New("orchestrator: client and scheduler are required")
	}
	if deps.Catalog == nil {
		c, err := prompts.NewCatalog()
		if err != nil {
			return nil, fmt.Errorf("load prompt catalog: %w", err)
		}
		deps.Catalog = c
	}
	if deps.Plans == nil {
		deps.Plans = plan.NewMemoryStore()
	}
	if deps.Outcomes == nil {
		deps.Outcomes = reasoning.NewMemoryStore()
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	applyOptionDefaults(&opts)

	logger := logx.NewLogger("orchestrator")
	e := &Engine{
		client:    deps.Client,
		scheduler: deps.Scheduler,
		loop:      toolloop.New(deps.Client, deps.Scheduler, logx.NewLogger("toolloop")),
		reviewer:  qa.NewReviewer(deps.Client, deps.Scheduler, qa.FromQAConfig(opts.QA)),
		policy:    policy.New(policy.Options{ReasoningEnabled: opts.Orchestration.ReasoningRequired}),
		catalog:   deps.Catalog,
		plans:     deps.Plans,
		outcomes:  deps.Outcomes,
		store:     deps.History,
		runs:      deps.Runs,
		metrics:   deps.Metrics,
		sink:      deps.Sink,
		histories: contextmgr.NewRegistry(opts.Orchestration.HistoryTokenBudget),
		opts:      opts,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		loaded:    make(map[string]bool),
	}

	gopts := []graph.Option{graph.WithHopObserver(func(h graph.Hop) { e.metrics.ObserveHop(h.Node) })}
	if deps.TracerProvider != nil {
		gopts = append(gopts, graph.WithTracerProvider(deps.TracerProvider))
	}
	e.graph = graph.New[State](opts.Orchestration.MaxNodeHops, gopts...).MustAdd(
		e.node(NodeDispatcher, e.dispatch),
		e.node(NodeToolLoop, e.toolLoop),
		e.node(NodePlanning, e.planning),
		e.node(NodeReasoningCorrections, e.reasoningCorrections),
		e.node(NodeDeliveryGate, e.deliveryGate),
		e.node(NodeQA, e.qaReview),
		e.node(NodeFinalResponse, e.finalResponse),
		e.node(NodePostFinal, e.postFinal),
		e.node(NodeEmptyRecovery, e.emptyRecovery),
	)
	return e, nil
}

func applyOptionDefaults(opts *Options) {
	o := &opts.Orchestration
	if o.MaxNodeHops <= 0 {
		o.MaxNodeHops = 64
	}
	if o.MaxToolIterations <= 0 {
		o.MaxToolIterations = toolloop.DefaultMaxIterations
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.DefaultMaxTokens
	}
}

// node wraps fn so every hop is counted in the state it receives.
func (e *Engine) node(id string, fn func(context.Context, State) (State, error)) graph.Node[State] {
	return graph.Func(id, func(ctx context.Context, s State) (State, error) {
		s.Hops++
		s.Next = graph.Transition{}
		return fn(ctx, s)
	})
}

// History returns the rolling history of a conversation.
func (e *Engine) History(conversationID string) *contextmgr.ContextManager {
	return e.histories.For(conversationID)
}

// Send runs req to completion. Records are appended to the sink as the run
// progresses and a terminal state is emitted exactly once. A model or
// transport failure, cancellation, or an internal orchestration error ends
// the run and is returned; history appended before the failure is kept.
func (e *Engine) Send(ctx context.Context, req Request) error {
	req, err := req.normalize()
	if err != nil {
		return err
	}

	unlock := e.lock(req.ConversationID)
	defer unlock()

	ctx = logx.WithRunID(ctx, req.RunID)
	history := e.historyFor(ctx, req.ConversationID)
	history.AddMessage(llm.RoleUser, req.UserText)
	e.emit(req, Record{Role: llm.RoleUser, Content: req.UserText})

	if e.runs != nil {
		if err := e.runs.StartRun(ctx, req.RunID, req.ConversationID, string(req.Mode)); err != nil {
			e.logger.Warn("⚠️  Failed to record run start %s: %v", req.RunID, err)
		}
	}
	e.logger.Info("▶️  Run %s started (%s mode, conversation %s)", req.RunID, req.Mode, req.ConversationID)

	start := time.Now()
	final, err := e.graph.Run(ctx, NodeDispatcher, State{Request: req})
	err = classify(err)

	status := StatusCompleted
	if err != nil {
		status = runStatus(err)
		e.logger.Error("❌ Run %s %s after %d hops: %v", req.RunID, status, final.Hops, err)
		// cancellation must not stop the bookkeeping
		e.saveHistory(context.WithoutCancel(ctx), req.ConversationID)
		e.sink.Done(Terminal{
			ConversationID: req.ConversationID,
			RunID:          req.RunID,
			Status:         status,
			Error:          err.Error(),
			Hops:           final.Hops,
		})
	} else {
		e.logger.Info("✅ Run %s completed in %d hops", req.RunID, final.Hops)
	}

	if e.runs != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if ferr := e.runs.FinishRun(context.WithoutCancel(ctx), req.RunID, status, final.Hops, msg); ferr != nil {
			e.logger.Warn("⚠️  Failed to record run finish %s: %v", req.RunID, ferr)
		}
	}
	e.metrics.ObserveRun(string(req.Mode), status, time.Since(start))
	return err
}

func runStatus(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, toolloop.ErrGracefulShutdown) {
		return StatusCancelled
	}
	return StatusFailed
}

func (e *Engine) lock(conversationID string) func() {
	e.mu.Lock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[conversationID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// historyFor returns the conversation history, loading it from the store the
// first time the conversation is seen by this engine.
func (e *Engine) historyFor(ctx context.Context, conversationID string) *contextmgr.ContextManager {
	h := e.histories.For(conversationID)
	if e.store == nil {
		return h
	}
	e.mu.Lock()
	loaded := e.loaded[conversationID]
	e.loaded[conversationID] = true
	e.mu.Unlock()
	if loaded {
		return h
	}
	found, err := e.store.LoadHistory(ctx, conversationID, h)
	switch {
	case err != nil:
		e.logger.Warn("⚠️  Failed to load history for %s, starting fresh: %v", conversationID, err)
	case found:
		e.logger.Info("📚 Restored %d messages for conversation %s", h.GetMessageCount(), conversationID)
	}
	return h
}

func (e *Engine) saveHistory(ctx context.Context, conversationID string) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveHistory(ctx, conversationID, e.histories.For(conversationID)); err != nil {
		e.logger.Warn("⚠️  Failed to save history for %s: %v", conversationID, err)
	}
}

func (e *Engine) emit(req Request, rec Record) {
	rec.ConversationID = req.ConversationID
	rec.RunID = req.RunID
	rec.Time = time.Now().UTC()
	e.sink.Append(rec)
}

func (e *Engine) progress(req Request) func(toolexec.Event) {
	return func(ev toolexec.Event) {
		e.sink.Progress(ProgressEvent{ConversationID: req.ConversationID, RunID: req.RunID, Event: ev})
	}
}

func (e *Engine) execOptions(req Request) toolexec.Options {
	return toolexec.Options{
		ProjectRoot: req.ProjectRoot,
		IsCancelled: req.cancelled,
		OnProgress:  e.progress(req),
	}
}

// call issues one request for a prepared stage.
func (e *Engine) call(ctx context.Context, s State, sc stageCall, messages []llm.CompletionMessage) (llm.CompletionResponse, error) {
	resp, err := e.client.Complete(ctx, e.request(s, sc, messages))
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("%s request failed: %w", sc.decision.Stage, err)
	}
	return resp, nil
}

// transient returns the history as request messages with extra appended for
// this request only.
func (e *Engine) transient(s State, sc stageCall, extra ...llm.CompletionMessage) []llm.CompletionMessage {
	msgs := e.histories.For(s.Request.ConversationID).BuildMessages(sc.system)
	return append(msgs, extra...)
}
