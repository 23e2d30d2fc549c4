package orchestrator

import (
	"context"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/policy"
	"agentcore/pkg/qa"
)

// qaReview runs the advisory reviews. It reads the candidate answer but never
// changes it; a failed or timed-out stage is recorded as skipped.
func (e *Engine) qaReview(ctx context.Context, s State) (State, error) {
	if s.Response == nil {
		return s, internal(NodeQA, ErrMissingResponse)
	}
	req := s.Request
	if !req.QAEnabled || !e.opts.QA.Enabled {
		return s.goTo(NodeFinalResponse), nil
	}

	candidate := s.candidate()
	if candidate == "" {
		candidate = FallbackMessage
	}
	transcript := append(e.histories.For(req.ConversationID).GetMessages(), llm.NewAssistantMessage(candidate, nil))

	report := &qa.Report{ConversationID: req.ConversationID, RunID: req.RunID, CreatedAt: time.Now().UTC()}
	for _, stage := range []policy.Stage{policy.StageQAToolReview, policy.StageQAQualityReview} {
		if !e.policy.Resolve(req.Mode, stage, nil).Permitted {
			continue
		}
		sc, err := e.prepare(ctx, NodeQA, s, stage, nil)
		if err != nil {
			return s, err
		}
		meta := e.request(s, sc, nil).Meta
		sr, err := e.reviewer.Review(ctx, qa.Input{
			Stage:        stage,
			SystemPrompt: sc.system,
			Transcript:   transcript,
			Tools:        sc.tools,
			ExecOptions:  e.execOptions(req),
			Meta:         meta,
			MaxTokens:    e.opts.MaxTokens,
		})
		if cerr := ctx.Err(); cerr != nil {
			return s, cerr
		}
		if err != nil {
			e.logger.Warn("⚠️  QA %s skipped: %v", stage, err)
			sr = qa.Skip(stage, err)
			e.metrics.QAReview(string(stage), "skipped")
		} else {
			e.metrics.QAReview(string(stage), string(sr.Verdict))
		}
		report.Stages = append(report.Stages, sr)
	}

	if len(report.Stages) > 0 {
		s.QAReport = report
		e.logger.Info("🔍 QA verdict for run %s: %s", req.RunID, report.Verdict())
	}
	return s.goTo(NodeFinalResponse), nil
}
