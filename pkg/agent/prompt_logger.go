package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/config"
	"agentcore/pkg/logx"
)

// PromptLogMode defines when prompts should be logged.
type PromptLogMode string

const (
	// PromptLogOff disables prompt logging completely.
	PromptLogOff PromptLogMode = "off"
	// PromptLogOnFailure logs prompts of failed requests.
	PromptLogOnFailure PromptLogMode = "on_failure"
	// PromptLogAlways logs every prompt; enabled by debug.llm_messages.
	PromptLogAlways PromptLogMode = "always"
)

// PromptLogConfig configures prompt logging behavior.
type PromptLogConfig struct {
	Mode     PromptLogMode
	MaxChars int // longer prompts are shortened to head, tail and hash
}

// DefaultPromptLogConfig provides sensible defaults.
//
//nolint:gochecknoglobals // package default
var DefaultPromptLogConfig = PromptLogConfig{
	Mode:     PromptLogOnFailure,
	MaxChars: 4000,
}

func promptLogConfig(d config.DebugConfig) PromptLogConfig {
	cfg := DefaultPromptLogConfig
	if d.LLMMessages {
		cfg.Mode = PromptLogAlways
	}
	return cfg
}

// PromptLogger handles conditional logging of prompts.
type PromptLogger struct {
	logger *logx.Logger
	config PromptLogConfig
}

// NewPromptLogger creates a new prompt logger with the given configuration.
func NewPromptLogger(cfg PromptLogConfig, logger *logx.Logger) *PromptLogger {
	if logger == nil {
		logger = logx.NewLogger("prompt-log")
	}
	return &PromptLogger{config: cfg, logger: logger}
}

// Middleware logs requests according to the configured mode.
func (pl *PromptLogger) Middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if pl.config.Mode == PromptLogOff {
			return next
		}
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, req)
			pl.LogRequest(req, err, time.Since(start))
			return resp, err //nolint:wrapcheck // pass through unchanged
		})
	}
}

// LogRequest logs one request if the mode calls for it. Cancellation is never logged.
func (pl *PromptLogger) LogRequest(req llm.CompletionRequest, err error, duration time.Duration) {
	switch pl.config.Mode {
	case PromptLogOff:
		return
	case PromptLogOnFailure:
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
	}

	prompt := llmerrors.SanitizePrompt(renderPrompt(req), pl.config.MaxChars)
	if err != nil {
		pl.logger.Warn("❌ request failed after %dms (stage=%s type=%s): %v\n%s",
			duration.Milliseconds(), req.Meta.Stage, llmerrors.TypeOf(err), err, prompt)
		return
	}
	pl.logger.Debug("📝 request ok after %dms (stage=%s)\n%s", duration.Milliseconds(), req.Meta.Stage, prompt)
}

func renderPrompt(req llm.CompletionRequest) string {
	var b strings.Builder
	for i := range req.Messages {
		msg := &req.Messages[i]
		b.WriteString("[")
		b.WriteString(string(msg.Role))
		b.WriteString("] ")
		b.WriteString(msg.Content)
		for _, tc := range msg.ToolCalls {
			b.WriteString(" <call ")
			b.WriteString(tc.Name)
			b.WriteString(">")
		}
		for _, tr := range msg.ToolResults {
			b.WriteString(" <result ")
			b.WriteString(tr.ToolCallID)
			b.WriteString(">")
		}
		b.WriteString("\n")
	}
	return b.String()
}
