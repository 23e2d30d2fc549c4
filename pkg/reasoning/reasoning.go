// Package reasoning parses the structured reasoning block models are asked to
// open each reply with, and derives the Outcome that is kept in its place.
package reasoning

import (
	"regexp"
	"strings"
	"time"
)

// Delivery is the model's declared completion state.
type Delivery string

const (
	DeliveryDone      Delivery = "DONE"
	DeliveryNeedsWork Delivery = "NEEDS_WORK"
	// DeliveryUnknown means no valid marker was found.
	DeliveryUnknown Delivery = ""
)

// Section keys inside the block.
const (
	KeyPlanDelta  = "PLAN_DELTA"
	KeyNextAction = "NEXT_ACTION"
	KeyRisks      = "RISKS"
	KeyDelivery   = "DELIVERY"
)

//nolint:gochecknoglobals // compiled once
var (
	blockPattern   = regexp.MustCompile(`(?is)<reasoning>(.*?)</reasoning>`)
	unclosedTag    = regexp.MustCompile(`(?is)<reasoning>.*$`)
	sectionPattern = regexp.MustCompile(`(?m)^\s*(PLAN_DELTA|NEXT_ACTION|RISKS|DELIVERY)\s*:\s*(.*)$`)
)

// Outcome is the persisted summary of one reasoning block. The raw block is
// never stored.
type Outcome struct {
	ConversationID string    `json:"conversation_id"`
	RunID          string    `json:"run_id"`
	PlanDelta      string    `json:"plan_delta"`
	NextAction     string    `json:"next_action"`
	Risks          string    `json:"risks"`
	Delivery       Delivery  `json:"delivery"`
	CreatedAt      time.Time `json:"created_at"`
}

// Done reports a DONE claim.
func (o Outcome) Done() bool { return o.Delivery == DeliveryDone }

// block returns the inner text of the first reasoning block.
func block(text string) (string, bool) {
	m := blockPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// sections reads section values. Continuation lines are appended to the
// preceding section.
func sections(body string) map[string]string {
	out := make(map[string]string)
	current := ""
	for _, line := range strings.Split(body, "\n") {
		if m := sectionPattern.FindStringSubmatch(line); m != nil {
			current = m[1]
			out[current] = strings.TrimSpace(m[2])
			continue
		}
		if current != "" && strings.TrimSpace(line) != "" {
			out[current] = strings.TrimSpace(out[current] + "\n" + strings.TrimSpace(line))
		}
	}
	return out
}

func parseDelivery(v string) Delivery {
	switch strings.ToUpper(strings.TrimSpace(strings.Trim(v, "*`. "))) {
	case string(DeliveryDone):
		return DeliveryDone
	case string(DeliveryNeedsWork), "NEEDS WORK":
		return DeliveryNeedsWork
	default:
		return DeliveryUnknown
	}
}

// Validate lists what is wrong with the reasoning block in text. An empty
// result means the block is well formed.
func Validate(text string) []string {
	body, ok := block(text)
	if !ok {
		if unclosedTag.MatchString(text) {
			return []string{"reasoning block is not closed with </reasoning>"}
		}
		return []string{"missing <reasoning> block"}
	}
	secs := sections(body)
	var problems []string
	for _, key := range []string{KeyPlanDelta, KeyNextAction, KeyRisks} {
		if strings.TrimSpace(secs[key]) == "" {
			problems = append(problems, "missing "+key+" section")
		}
	}
	d, present := secs[KeyDelivery]
	switch {
	case !present:
		problems = append(problems, "missing DELIVERY marker")
	case parseDelivery(d) == DeliveryUnknown:
		problems = append(problems, "DELIVERY must be DONE or NEEDS_WORK, got "+quote(d))
	}
	return problems
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}

// Parse derives an Outcome from a well-formed block.
func Parse(text string) (Outcome, bool) {
	if len(Validate(text)) > 0 {
		return Outcome{}, false
	}
	body, _ := block(text)
	secs := sections(body)
	return Outcome{
		PlanDelta:  secs[KeyPlanDelta],
		NextAction: secs[KeyNextAction],
		Risks:      secs[KeyRisks],
		Delivery:   parseDelivery(secs[KeyDelivery]),
	}, true
}

// DeliveryOf returns the delivery marker in text, even when other sections are
// missing. Text without a block yields DeliveryUnknown.
func DeliveryOf(text string) Delivery {
	body, ok := block(text)
	if !ok {
		return DeliveryUnknown
	}
	return parseDelivery(sections(body)[KeyDelivery])
}

// Strip removes every reasoning block, including an unclosed trailing one.
func Strip(text string) string {
	out := blockPattern.ReplaceAllString(text, "")
	out = unclosedTag.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// Has reports whether text contains a reasoning block.
func Has(text string) bool {
	return blockPattern.MatchString(text)
}
