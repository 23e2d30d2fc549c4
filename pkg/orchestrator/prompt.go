package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/policy"
	"agentcore/pkg/prompts"
	"agentcore/pkg/tools"
)

// stageCall is everything needed to issue one request for a stage.
type stageCall struct {
	decision policy.Decision
	tools    *tools.Set
	system   string
}

// prepare resolves policy for stage and renders its system prompt. A stage
// the mode does not permit is an invariant violation of the calling node.
func (e *Engine) prepare(ctx context.Context, node string, s State, stage policy.Stage, problems []string) (stageCall, error) {
	req := s.Request
	d := e.policy.Resolve(req.Mode, stage, req.descriptors())
	if !d.Permitted {
		return stageCall{}, internal(node, fmt.Errorf("%w: %s/%s", ErrStageNotPermitted, req.Mode, stage))
	}
	allowed := req.Tools.Subset(d.AllowedTools)

	data := prompts.Data{
		ProjectRoot:       req.ProjectRoot,
		ToolDocumentation: allowed.Documentation(),
		Problems:          problems,
	}
	if stage == policy.StagePlanning || stage == policy.StageDeliveryCorrection {
		p, ok, err := e.plans.Get(ctx, req.ConversationID)
		switch {
		case err != nil:
			e.logger.Warn("⚠️  Failed to read plan for %s: %v", req.ConversationID, err)
		case ok:
			data.Plan = p.Text
		}
	}

	system, err := e.catalog.Render(d.PromptComponents, data)
	if err != nil {
		return stageCall{}, internal(node, err)
	}
	if extra := strings.TrimSpace(req.ExtraContext); extra != "" {
		system += "\n\n## Context\n" + extra
	}
	return stageCall{decision: d, tools: allowed, system: system}, nil
}

// request builds a completion request over messages. Tools are attached only
// when the stage allows any.
func (e *Engine) request(s State, sc stageCall, messages []llm.CompletionMessage) llm.CompletionRequest {
	req := s.Request
	out := llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
		Meta: llm.RequestMeta{
			Mode:             req.Mode,
			Stage:            sc.decision.Stage,
			ProjectRoot:      req.ProjectRoot,
			ConversationID:   req.ConversationID,
			RunID:            req.RunID,
			PromptComponents: append([]string(nil), sc.decision.PromptComponents...),
		},
	}
	if sc.tools.Len() > 0 {
		out.Tools = sc.tools.Definitions()
		out.ToolChoice = llm.ToolChoiceAuto
	}
	return out
}
