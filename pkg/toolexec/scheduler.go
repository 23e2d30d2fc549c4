// Package toolexec runs one batch of model-requested tool calls.
//
// Calls that mutate the same filesystem path run one at a time in issue
// order. Everything else runs concurrently up to a bound. Results always come
// back one per call, in issue order.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/config"
	"agentcore/pkg/logx"
	"agentcore/pkg/tools"
)

//nolint:gochecknoglobals // package tracer
var tracer = otel.Tracer("agentcore/toolexec")

// Config bounds a batch.
type Config struct {
	MaxConcurrency int
	OutputLimit    int           // payload bytes kept per call
	CallTimeout    time.Duration // zero means no per-call timeout
}

// DefaultConfig is used for zero fields.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxConcurrency: 4,
	OutputLimit:    16 * 1024,
	CallTimeout:    60 * time.Second,
}

// FromSchedulerConfig converts the scheduler config section.
func FromSchedulerConfig(sc config.SchedulerConfig) Config {
	return Config{
		MaxConcurrency: sc.MaxConcurrency,
		OutputLimit:    sc.OutputLimit,
		CallTimeout:    sc.CallTimeout.Std(),
	}
}

// Event is a progress notification. CallID and ToolName are always set.
type Event struct {
	CallID   string
	ToolName string
	Status   Status
	Preview  string
	Message  string
	Time     time.Time
}

// Options are per-batch inputs.
type Options struct {
	ProjectRoot string
	// IsCancelled is asked once per call before it starts.
	IsCancelled func(callID string) bool
	// OnProgress receives events one at a time, never concurrently.
	OnProgress func(Event)
}

// Observer records per-call outcomes.
type Observer interface {
	ObserveToolCall(tool string, status Status, reason string, duration time.Duration)
}

// Scheduler executes tool batches. It holds no per-batch state and is safe
// for concurrent use.
type Scheduler struct {
	config   Config
	observer Observer
	logger   *logx.Logger
}

// New creates a scheduler. Zero config fields take DefaultConfig values.
func New(cfg Config, observer Observer) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig.MaxConcurrency
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultConfig.OutputLimit
	}
	return &Scheduler{config: cfg, observer: observer, logger: logx.NewLogger("toolexec")}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.config }

type lane struct {
	key     string
	indices []int
}

// planLanes groups calls by declared intent. Mutating calls with a target path
// share the lane of that path, resolved against root so relative and absolute
// spellings of one file meet; every other call is alone in its lane.
func planLanes(set *tools.Set, calls []llm.ToolCall, root string) []lane {
	var lanes []lane
	byPath := make(map[string]int)
	for i := range calls {
		if tool, err := set.Resolve(calls[i].Name); err == nil {
			capability := tool.Capability()
			if capability.Effect.Mutating() {
				if path, ok := capability.TargetPath(calls[i].Parameters, root); ok {
					if li, exists := byPath[path]; exists {
						lanes[li].indices = append(lanes[li].indices, i)
						continue
					}
					byPath[path] = len(lanes)
					lanes = append(lanes, lane{key: "path:" + path, indices: []int{i}})
					continue
				}
			}
		}
		lanes = append(lanes, lane{key: fmt.Sprintf("call:%d", i), indices: []int{i}})
	}
	return lanes
}

// Run executes calls against set and returns one Result per call in issue
// order. Tool failures never abort siblings. When ctx ends, calls that have
// not started are skipped.
func (s *Scheduler) Run(ctx context.Context, set *tools.Set, calls []llm.ToolCall, opts Options) []Result {
	ctx, span := tracer.Start(ctx, "toolexec.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("calls.count", len(calls)),
		attribute.String("project.root", opts.ProjectRoot),
	)

	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	var progressMu sync.Mutex
	emit := func(ev Event) {
		if opts.OnProgress == nil {
			return
		}
		ev.Time = time.Now()
		progressMu.Lock()
		defer progressMu.Unlock()
		opts.OnProgress(ev)
	}

	lanes := planLanes(set, calls, opts.ProjectRoot)
	span.SetAttributes(attribute.Int("lanes.count", len(lanes)))

	sem := semaphore.NewWeighted(int64(s.config.MaxConcurrency))
	var g errgroup.Group
	for _, ln := range lanes {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				for _, i := range ln.indices {
					results[i] = s.abort(calls[i], emit)
				}
				return nil
			}
			defer sem.Release(1)
			for _, i := range ln.indices {
				if ctx.Err() != nil {
					results[i] = s.abort(calls[i], emit)
					continue
				}
				results[i] = s.runOne(ctx, set, calls[i], opts, emit)
			}
			return nil
		})
	}
	_ = g.Wait() // lanes never return errors

	failed := 0
	for i := range results {
		if results[i].Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("calls.failed", failed))
	logx.Debug(ctx, "toolexec", "🔧 batch done: %d calls, %d lanes, %d failed", len(calls), len(lanes), failed)
	return results
}

func (s *Scheduler) abort(call llm.ToolCall, emit func(Event)) Result {
	env := skipped(ReasonAborted, "not started: run was cancelled")
	emit(Event{CallID: call.ID, ToolName: call.Name, Status: StatusFailed, Message: env.Message})
	s.observe(call.Name, env, 0)
	return Result{CallID: call.ID, ToolName: call.Name, Envelope: env}
}

func (s *Scheduler) observe(tool string, env Envelope, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveToolCall(tool, env.Status, env.Reason, d)
	}
}

func (s *Scheduler) runOne(ctx context.Context, set *tools.Set, call llm.ToolCall, opts Options, emit func(Event)) Result {
	ctx, span := tracer.Start(ctx, "toolexec.call")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))

	res := Result{CallID: call.ID, ToolName: call.Name}
	finish := func(env Envelope, d time.Duration) Result {
		res.Envelope = env
		if env.Status != StatusCompleted {
			span.SetStatus(codes.Error, env.Reason)
		}
		span.SetAttributes(attribute.String("tool.status", string(env.Status)))
		emit(Event{CallID: call.ID, ToolName: call.Name, Status: terminalEventStatus(env.Status), Preview: env.Preview, Message: env.Message})
		s.observe(call.Name, env, d)
		return res
	}

	if opts.IsCancelled != nil && opts.IsCancelled(call.ID) {
		s.logger.Info("⏭️ skipping cancelled call %s (%s)", call.ID, call.Name)
		return finish(skipped(ReasonCancelled, "call was cancelled before execution"), 0)
	}

	tool, err := set.Resolve(call.Name)
	if err != nil {
		return finish(failure(ReasonUnknownTool, err.Error()), 0)
	}

	preview := s.preview(tool, call.Parameters)
	emit(Event{CallID: call.ID, ToolName: call.Name, Status: StatusExecuting, Preview: preview})

	start := time.Now()
	env := s.exec(ctx, tool, call)
	env.Preview = preview
	return finish(env, time.Since(start))
}

func terminalEventStatus(st Status) Status {
	if st == StatusCompleted {
		return StatusCompleted
	}
	return StatusFailed
}

func (s *Scheduler) preview(tool tools.Tool, args map[string]any) (out string) {
	p, ok := tool.(tools.Previewer)
	if !ok {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("preview for %s panicked: %v", tool.Name(), r)
			out = ""
		}
	}()
	out, _ = bounded(p.Preview(args), s.config.OutputLimit)
	return out
}

type execOutcome struct {
	result *tools.ExecResult
	err    error
	panic  any
	stack  []byte
}

// exec runs the tool in its own goroutine so a tool that ignores its context
// still cannot hold the batch past the call timeout.
func (s *Scheduler) exec(ctx context.Context, tool tools.Tool, call llm.ToolCall) Envelope {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
	}
	defer cancel()

	args := call.Parameters
	if args == nil {
		args = map[string]any{}
	}

	done := make(chan execOutcome, 1)
	go func() {
		var out execOutcome
		defer func() {
			if r := recover(); r != nil {
				out.panic = r
				out.stack = debug.Stack()
			}
			done <- out
		}()
		out.result, out.err = tool.Exec(callCtx, args)
	}()

	var out execOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return failure(ReasonTimeout, fmt.Sprintf("tool timed out after %s", s.config.CallTimeout))
		}
		return failure(ReasonCancelled, "run was cancelled while the tool was executing")
	}

	switch {
	case out.panic != nil:
		s.logger.Error("💥 tool %s panicked: %v\n%s", tool.Name(), out.panic, out.stack)
		return failure(ReasonPanic, fmt.Sprintf("tool panicked: %v", out.panic))
	case out.err != nil:
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return failure(ReasonTimeout, out.err.Error())
		}
		return failure(ReasonExecError, out.err.Error())
	case out.result == nil:
		return failure(ReasonExecError, "tool returned no result")
	default:
		return interpret(out.result.Content, s.config.OutputLimit)
	}
}
