package qa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/toolloop"
	"agentcore/pkg/config"
	"agentcore/pkg/contextmgr"
	"agentcore/pkg/logx"
	"agentcore/pkg/policy"
	"agentcore/pkg/toolexec"
	"agentcore/pkg/tools"
)

// Config bounds one review stage.
type Config struct {
	Timeout       time.Duration
	MaxToolRounds int
}

// FromQAConfig converts the qa config section.
func FromQAConfig(c config.QAConfig) Config {
	return Config{Timeout: c.Timeout.Std(), MaxToolRounds: c.MaxToolRounds}
}

// Input is one review stage request.
type Input struct {
	Stage policy.Stage
	// SystemPrompt is the rendered stage prompt.
	SystemPrompt string
	// Transcript is the conversation under review, final answer included.
	Transcript []llm.CompletionMessage
	// Tools must already be the read-only subset for the stage.
	Tools       *tools.Set
	ExecOptions toolexec.Options
	Meta        llm.RequestMeta
	MaxTokens   int
}

// Reviewer runs review stages as separate, read-only model exchanges.
type Reviewer struct {
	client llm.LLMClient
	loop   *toolloop.ToolLoop
	cfg    Config
	logger *logx.Logger
}

// NewReviewer creates a Reviewer. Tool calls made during review run through scheduler.
func NewReviewer(client llm.LLMClient, scheduler *toolexec.Scheduler, cfg Config) *Reviewer {
	logger := logx.NewLogger("qa")
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 3
	}
	return &Reviewer{
		client: client,
		loop:   toolloop.New(client, scheduler, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Review runs one stage under the configured timeout. Its own history is
// private: nothing it does is written to the conversation.
func (r *Reviewer) Review(ctx context.Context, in Input) (StageReport, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	history := contextmgr.NewContextManager()
	history.Append(in.Transcript...)
	history.AddMessage(llm.RoleUser, "Review the conversation above as instructed and reply with your review only.")

	build := func(withTools bool) func(*contextmgr.ContextManager) llm.CompletionRequest {
		return func(h *contextmgr.ContextManager) llm.CompletionRequest {
			meta := in.Meta
			meta.Stage = in.Stage
			req := llm.CompletionRequest{
				Messages:  h.BuildMessages(in.SystemPrompt),
				MaxTokens: in.MaxTokens,
				Meta:      meta,
			}
			if withTools && in.Tools != nil && in.Tools.Len() > 0 {
				req.Tools = in.Tools.Definitions()
				req.ToolChoice = llm.ToolChoiceAuto
			}
			return req
		}
	}

	resp, err := r.client.Complete(ctx, build(true)(history))
	if err != nil {
		return StageReport{}, fmt.Errorf("%s review failed: %w", in.Stage, err)
	}

	if resp.HasToolCalls() {
		out, err := r.loop.Run(ctx, resp, &toolloop.Config{
			History:       history,
			Tools:         in.Tools,
			BuildRequest:  build(true),
			ExecOptions:   in.ExecOptions,
			MaxIterations: r.cfg.MaxToolRounds,
		})
		if err != nil {
			return StageReport{}, fmt.Errorf("%s review tool loop: %w", in.Stage, err)
		}
		if out.Err != nil {
			return StageReport{}, fmt.Errorf("%s review tool loop: %w", in.Stage, out.Err)
		}
		resp = out.Response
		if out.Kind == toolloop.OutcomeMaxIterations {
			r.logger.Info("%s review used %d tool rounds, asking for the verdict", in.Stage, out.Iterations)
			// the last turn's calls are never executed, so it is not kept
			if resp, err = r.client.Complete(ctx, build(false)(history)); err != nil {
				return StageReport{}, fmt.Errorf("%s review failed: %w", in.Stage, err)
			}
		}
	}

	sr, err := Parse(in.Stage, resp.Content)
	if err != nil {
		return StageReport{}, fmt.Errorf("%s review: %w", in.Stage, err)
	}
	r.logger.Info("🔍 %s review verdict: %s (%d findings)", in.Stage, sr.Verdict, len(sr.Findings))
	return sr, nil
}

// Skip records a stage that did not produce a review. Timeouts and model
// failures are recoverable here: the run continues without the stage.
func Skip(stage policy.Stage, err error) StageReport {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timed out"
	}
	return StageReport{Stage: stage, Skipped: reason}
}
