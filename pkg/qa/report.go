// Package qa runs advisory reviews of a finished turn. A review produces a
// Report that can be shown or carried into later turns; it never edits the
// answer it reviews.
package qa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentcore/pkg/policy"
)

// Verdict is a reviewer's overall judgement.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// ErrEmptyReview is returned for a review with no content.
var ErrEmptyReview = errors.New("empty review")

func (v Verdict) rank() int {
	switch v {
	case VerdictFail:
		return 2
	case VerdictWarn:
		return 1
	default:
		return 0
	}
}

// ParseVerdict accepts pass, warn or fail case-insensitively, plus a few
// common synonyms.
func ParseVerdict(s string) (Verdict, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), `"*.`)) {
	case "pass", "passed", "ok", "approved":
		return VerdictPass, true
	case "warn", "warning", "needs_attention":
		return VerdictWarn, true
	case "fail", "failed", "reject", "rejected":
		return VerdictFail, true
	default:
		return "", false
	}
}

// StageReport is the outcome of one review stage. Skipped holds the reason
// when the stage did not produce a review.
type StageReport struct {
	Stage    policy.Stage `json:"stage"`
	Verdict  Verdict      `json:"verdict,omitempty"`
	Summary  string       `json:"summary,omitempty"`
	Findings []string     `json:"findings,omitempty"`
	Skipped  string       `json:"skipped,omitempty"`
}

// Report collects the stage reports of one run.
type Report struct {
	ConversationID string        `json:"conversation_id"`
	RunID          string        `json:"run_id"`
	Stages         []StageReport `json:"stages"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Verdict is the worst verdict of the reviewed stages, or "" when every stage
// was skipped.
func (r Report) Verdict() Verdict {
	var worst Verdict
	for _, s := range r.Stages {
		if s.Skipped != "" {
			continue
		}
		if worst == "" || s.Verdict.rank() > worst.rank() {
			worst = s.Verdict
		}
	}
	return worst
}

// Reviewed reports whether at least one stage produced a review.
func (r Report) Reviewed() bool { return r.Verdict() != "" }

// Render formats the report as context text for later turns.
func (r Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "QA review (%s)", r.Verdict())
	for _, s := range r.Stages {
		if s.Skipped != "" {
			fmt.Fprintf(&b, "\n[%s] skipped: %s", s.Stage, s.Skipped)
			continue
		}
		fmt.Fprintf(&b, "\n[%s] %s", s.Stage, s.Verdict)
		if s.Summary != "" {
			b.WriteString(": " + s.Summary)
		}
		for _, f := range s.Findings {
			b.WriteString("\n- " + f)
		}
	}
	return b.String()
}

type reviewJSON struct {
	Verdict  string          `json:"verdict"`
	Summary  string          `json:"summary"`
	Findings json.RawMessage `json:"findings"`
}

// Parse reads a review reply. A JSON object, bare or fenced, is preferred;
// otherwise bullet lines become findings and a "verdict:" line, if any, sets
// the verdict. Without an explicit verdict, findings mean warn.
func Parse(stage policy.Stage, text string) (StageReport, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return StageReport{}, ErrEmptyReview
	}
	if sr, ok := parseJSON(stage, text); ok {
		return sr, nil
	}
	return parseBullets(stage, text), nil
}

func parseJSON(stage policy.Stage, text string) (StageReport, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return StageReport{}, false
	}
	var raw reviewJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return StageReport{}, false
	}
	sr := StageReport{Stage: stage, Summary: strings.TrimSpace(raw.Summary)}
	sr.Findings = decodeFindings(raw.Findings)
	v, ok := ParseVerdict(raw.Verdict)
	if !ok {
		v = defaultVerdict(sr.Findings)
	}
	sr.Verdict = v
	return sr, true
}

// decodeFindings accepts a list of strings, a list of objects with a
// description-like field, or a single string.
func decodeFindings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}
	var objects []map[string]any
	if err := json.Unmarshal(raw, &objects); err == nil {
		for _, o := range objects {
			for _, k := range []string{"description", "message", "finding", "issue"} {
				if s, ok := o[k].(string); ok {
					list = append(list, s)
					break
				}
			}
		}
		return compact(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return compact([]string{single})
	}
	return nil
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBullets(stage policy.Stage, text string) StageReport {
	sr := StageReport{Stage: stage}
	explicit := false
	var prose []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "verdict:"):
			if v, ok := ParseVerdict(trimmed[len("verdict:"):]); ok {
				sr.Verdict, explicit = v, true
			}
		case strings.HasPrefix(lower, "summary:"):
			sr.Summary = strings.TrimSpace(trimmed[len("summary:"):])
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			if f := strings.TrimSpace(trimmed[2:]); f != "" {
				sr.Findings = append(sr.Findings, f)
			}
		case trimmed != "":
			prose = append(prose, trimmed)
		}
	}
	if sr.Summary == "" {
		sr.Summary = strings.Join(prose, " ")
	}
	if !explicit {
		sr.Verdict = defaultVerdict(sr.Findings)
	}
	return sr
}

func defaultVerdict(findings []string) Verdict {
	if len(findings) > 0 {
		return VerdictWarn
	}
	return VerdictPass
}
