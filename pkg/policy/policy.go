// Package policy maps (mode, stage) to the tools, prompt components and reasoning
// requirement that apply. Resolution is pure: the same inputs always produce the
// same Decision, and model output never feeds into it.
package policy

import (
	"fmt"
	"strings"

	"agentcore/pkg/tools"
)

// Mode is the caller-selected operating envelope.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeAgent Mode = "agent"
)

// ParseMode accepts "chat" or "agent", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeChat:
		return ModeChat, nil
	case ModeAgent:
		return ModeAgent, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want chat or agent)", s)
	}
}

// Stage is a named phase of one turn.
type Stage string

const (
	StageDispatch            Stage = "dispatch"
	StageToolLoop            Stage = "tool_loop"
	StagePlanning            Stage = "planning"
	StageReasoningCorrection Stage = "reasoning_correction"
	StageDeliveryCorrection  Stage = "delivery_correction"
	StageEmptyRecovery       Stage = "empty_recovery"
	StageQAToolReview        Stage = "qa_tool_review"
	StageQAQualityReview     Stage = "qa_quality_review"
	StageFinal               Stage = "final"
)

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{
		StageDispatch, StageToolLoop, StagePlanning, StageReasoningCorrection,
		StageDeliveryCorrection, StageEmptyRecovery, StageQAToolReview,
		StageQAQualityReview, StageFinal,
	}
}

// Prompt component names.
const (
	ComponentRole                = "role"
	ComponentModeChat            = "mode_chat"
	ComponentModeAgent           = "mode_agent"
	ComponentToolUsage           = "tool_usage"
	ComponentReasoningFormat     = "reasoning_format"
	ComponentPlanning            = "planning"
	ComponentReasoningCorrection = "reasoning_correction"
	ComponentDeliveryCorrection  = "delivery_correction"
	ComponentEmptyRecovery       = "empty_recovery"
	ComponentQAToolReview        = "qa_tool_review"
	ComponentQAQualityReview     = "qa_quality_review"
	ComponentFinalAnswer         = "final_answer"
)

// toolScope is how a stage filters the available tools.
type toolScope int

const (
	scopeNone toolScope = iota
	scopeReadOnly
	scopeExecution
)

type stageRule struct {
	scope      toolScope
	components []string
	reasoning  bool // reasoning applies here when enabled
	agentOnly  bool
}

//nolint:gochecknoglobals // static rule table
var rules = map[Stage]stageRule{
	StageDispatch:            {scope: scopeExecution, reasoning: true},
	StageToolLoop:            {scope: scopeExecution, reasoning: true},
	StagePlanning:            {scope: scopeNone, components: []string{ComponentPlanning}, agentOnly: true},
	StageReasoningCorrection: {scope: scopeNone, components: []string{ComponentReasoningCorrection}, reasoning: true},
	StageDeliveryCorrection:  {scope: scopeExecution, components: []string{ComponentDeliveryCorrection}, reasoning: true, agentOnly: true},
	StageEmptyRecovery:       {scope: scopeExecution, components: []string{ComponentEmptyRecovery}, reasoning: true},
	StageQAToolReview:        {scope: scopeReadOnly, components: []string{ComponentQAToolReview}, agentOnly: true},
	StageQAQualityReview:     {scope: scopeReadOnly, components: []string{ComponentQAQualityReview}, agentOnly: true},
	StageFinal:               {scope: scopeNone, components: []string{ComponentFinalAnswer}},
}

// Decision is the resolved policy for one (mode, stage).
type Decision struct {
	Mode             Mode
	Stage            Stage
	Permitted        bool
	AllowedTools     []string
	PromptComponents []string
	RequireReasoning bool
}

// Allows reports whether name is in AllowedTools.
func (d Decision) Allows(name string) bool {
	for _, n := range d.AllowedTools {
		if n == name {
			return true
		}
	}
	return false
}

// Options are fixed at construction and never change per call.
type Options struct {
	// ReasoningEnabled turns on the structured reasoning requirement for
	// agent-mode response stages.
	ReasoningEnabled bool
}

// Policy resolves decisions. The zero value has reasoning disabled.
type Policy struct {
	opts Options
}

// New creates a Policy.
func New(opts Options) Policy {
	return Policy{opts: opts}
}

// Resolve returns the decision for mode and stage given the caller-declared tools.
// Unknown modes or stages resolve to a non-permitted, empty decision.
func (p Policy) Resolve(mode Mode, stage Stage, available []tools.Descriptor) Decision {
	d := Decision{
		Mode:             mode,
		Stage:            stage,
		AllowedTools:     []string{},
		PromptComponents: []string{},
	}
	rule, ok := rules[stage]
	if !ok || (mode != ModeChat && mode != ModeAgent) {
		return d
	}
	if rule.agentOnly && mode != ModeAgent {
		return d
	}
	d.Permitted = true

	scope := rule.scope
	if mode == ModeChat && scope == scopeExecution {
		scope = scopeReadOnly
	}
	for _, desc := range available {
		switch scope {
		case scopeExecution:
			d.AllowedTools = append(d.AllowedTools, desc.Name)
		case scopeReadOnly:
			if !desc.Capability.Effect.Mutating() {
				d.AllowedTools = append(d.AllowedTools, desc.Name)
			}
		}
	}

	d.RequireReasoning = p.opts.ReasoningEnabled && rule.reasoning && mode == ModeAgent

	d.PromptComponents = append(d.PromptComponents, ComponentRole)
	if mode == ModeAgent {
		d.PromptComponents = append(d.PromptComponents, ComponentModeAgent)
	} else {
		d.PromptComponents = append(d.PromptComponents, ComponentModeChat)
	}
	if len(d.AllowedTools) > 0 {
		d.PromptComponents = append(d.PromptComponents, ComponentToolUsage)
	}
	if d.RequireReasoning {
		d.PromptComponents = append(d.PromptComponents, ComponentReasoningFormat)
	}
	d.PromptComponents = append(d.PromptComponents, rule.components...)
	return d
}
