// Package toolloop runs the execute-and-resubmit cycle for model tool calls.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/contextmgr"
	"agentcore/pkg/logx"
	"agentcore/pkg/toolexec"
	"agentcore/pkg/tools"
)

// DefaultMaxIterations bounds a loop when the caller does not.
const DefaultMaxIterations = 10

// ToolLoop manages LLM interactions with tool calling.
type ToolLoop struct {
	llmClient llm.LLMClient
	scheduler *toolexec.Scheduler
	logger    *logx.Logger
}

// New creates a new ToolLoop instance.
func New(llmClient llm.LLMClient, scheduler *toolexec.Scheduler, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{
		llmClient: llmClient,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Config defines one Run.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// History receives the assistant and tool records of every round.
	// The caller keeps ownership.
	History *contextmgr.ContextManager

	// Tools is the policy-filtered set calls are resolved against.
	Tools *tools.Set

	// BuildRequest builds a resubmission from the current history.
	BuildRequest func(history *contextmgr.ContextManager) llm.CompletionRequest

	// ExecOptions are handed to the scheduler for every batch.
	ExecOptions toolexec.Options

	// OnRound is called after each executed batch, before resubmission.
	OnRound func(round Round)

	// OnResponse is called for every model turn the loop receives.
	OnResponse func(resp llm.CompletionResponse)

	// MaxIterations is the remaining round budget.
	MaxIterations int

	// Nudge is sent as a user message when Run is entered without tool calls.
	Nudge string
}

// Run executes resp's tool calls, appends the records to history, and
// resubmits until the model stops requesting tools or the budget runs out.
func (tl *ToolLoop) Run(ctx context.Context, resp llm.CompletionResponse, cfg *Config) (Outcome, error) {
	if tl.llmClient == nil || tl.scheduler == nil || cfg.History == nil || cfg.BuildRequest == nil {
		return Outcome{}, ErrMissingDependency
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	out := Outcome{Response: resp}

	if !resp.HasToolCalls() {
		if cfg.Nudge == "" {
			return out, ErrNoToolCalls
		}
		tl.logger.Info("🔁 entering tool loop without calls, requesting continuation")
		if resp.Content != "" {
			cfg.History.Append(llm.NewAssistantMessage(resp.Content, nil))
		}
		cfg.History.AddMessage(llm.RoleUser, cfg.Nudge)
		next, err := tl.complete(ctx, cfg)
		if err != nil {
			return tl.failed(out, err), nil
		}
		out.Response = next
		out.Nudged = true
	}

	for out.Response.HasToolCalls() {
		if out.Iterations >= maxIterations {
			tl.logger.Warn("⚠️  Maximum tool iterations (%d) reached", maxIterations)
			out.Kind = OutcomeMaxIterations
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			out.Kind = OutcomeCancelled
			out.Err = fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
			return out, nil
		}

		calls := out.Response.ToolCalls
		tl.logger.Info("Processing %d tool calls (round %d)", len(calls), out.Iterations+1)

		// every tool_use needs a tool_result, so the pair is appended together
		results := tl.scheduler.Run(ctx, cfg.Tools, calls, cfg.ExecOptions)
		cfg.History.Append(
			llm.NewAssistantMessage(out.Response.Content, calls),
			llm.NewToolMessage(toolexec.ToolResults(results)),
		)
		round := Round{Calls: calls, Results: results}
		out.Rounds = append(out.Rounds, round)
		out.Iterations++
		if cfg.OnRound != nil {
			cfg.OnRound(round)
		}

		next, err := tl.complete(ctx, cfg)
		if err != nil {
			return tl.failed(out, err), nil
		}
		out.Response = next
		tl.logger.Info("🔄 Tools executed, model returned %d tool calls", len(next.ToolCalls))
	}

	out.Kind = OutcomeSuccess
	return out, nil
}

func (tl *ToolLoop) failed(out Outcome, err error) Outcome {
	if errors.Is(err, context.Canceled) {
		out.Kind = OutcomeCancelled
		out.Err = fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
		return out
	}
	out.Kind = OutcomeLLMError
	out.Err = err
	return out
}

func (tl *ToolLoop) complete(ctx context.Context, cfg *Config) (llm.CompletionResponse, error) {
	req := cfg.BuildRequest(cfg.History)

	tl.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d tools",
		tl.llmClient.GetModelName(), len(req.Messages), len(req.Tools))

	start := time.Now()
	resp, err := tl.llmClient.Complete(ctx, req)
	duration := time.Since(start)
	if err != nil {
		tl.logger.Error("❌ LLM call failed after %.3gs: %v", duration.Seconds(), err)
		return llm.CompletionResponse{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	tl.logger.Info("✅ LLM call completed in %.3gs, response length: %d chars, tool calls: %d",
		duration.Seconds(), len(resp.Content), len(resp.ToolCalls))
	if cfg.OnResponse != nil {
		cfg.OnResponse(resp)
	}
	return resp, nil
}
