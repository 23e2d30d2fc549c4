package plan

import (
	"fmt"
	"strings"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/tools"
)

// retryPrefix marks a sub-step added for a failed call.
const retryPrefix = "Retry: "

// Merge combines two versions of a checklist. Every line of prior is kept in
// place; items of next that prior lacks are appended; an item done in either
// version is done in the result. The result's items are a superset of prior's.
func Merge(prior, next string) string {
	if strings.TrimSpace(prior) == "" {
		return strings.TrimSpace(next)
	}

	nextDone := make(map[string]bool)
	var additions []Item
	priorKeys := make(map[string]bool)
	for _, it := range ParseChecklist(prior) {
		priorKeys[normalize(it.Text)] = true
	}
	for _, it := range ParseChecklist(next) {
		key := normalize(it.Text)
		if it.Done {
			nextDone[key] = true
		}
		if !priorKeys[key] {
			additions = append(additions, it)
			priorKeys[key] = true
		}
	}

	lines := strings.Split(strings.TrimRight(prior, "\n"), "\n")
	for _, it := range ParseChecklist(prior) {
		if nextDone[normalize(it.Text)] {
			lines[it.Line] = markDoneLine(lines[it.Line])
		}
	}
	for _, it := range additions {
		lines = append(lines, itemLine(it.Indent, it.Text, it.Done))
	}
	return strings.Join(lines, "\n")
}

// DescribeCall names the step a tool call accomplishes, from its declared
// capability rather than its name. Paths are shown relative to root when they
// lie inside it, so both spellings of a file name the same step.
func DescribeCall(set *tools.Set, call llm.ToolCall, root string) string {
	tool, err := set.Resolve(call.Name)
	if err != nil {
		return "Run " + call.Name
	}
	capability := tool.Capability()
	path, hasPath := capability.TargetPath(call.Parameters, root)
	if !hasPath {
		if p, ok := call.Parameters["path"].(string); ok && p != "" {
			path, hasPath = tools.CanonicalPath(root, p), true
		}
	}
	verb := "Run " + call.Name
	switch capability.Effect {
	case tools.EffectWrite:
		verb = "Write"
	case tools.EffectReplace:
		verb = "Edit"
	case tools.EffectDelete:
		verb = "Delete"
	case tools.EffectRead:
		if hasPath {
			verb = "Inspect"
		}
	}
	if hasPath {
		return verb + " " + path
	}
	return verb
}

// Strategic synthesises the opening checklist of a turn. An existing
// incomplete plan is reused and merged, never replaced. Steps come from the
// model-written checklist when it has items, and from the mutating calls the
// model already proposed.
func Strategic(prior Plan, set *tools.Set, proposed []llm.ToolCall, modelChecklist, root string) string {
	var lines []string
	seen := make(map[string]bool)
	add := func(text string) {
		key := normalize(text)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		lines = append(lines, itemLine(0, text, false))
	}

	for _, it := range ParseChecklist(modelChecklist) {
		if it.Indent == 0 {
			add(it.Text)
		}
	}
	for _, call := range proposed {
		if tool, err := set.Resolve(call.Name); err == nil && tool.Capability().Effect.Mutating() {
			add(DescribeCall(set, call, root))
		}
	}

	fresh := strings.Join(lines, "\n")
	if prior.Incomplete() {
		return Merge(prior.Text, fresh)
	}
	return fresh
}

// Executed is one finished call as seen by tactical planning.
type Executed struct {
	Call      llm.ToolCall
	Succeeded bool
}

// Tactical expands the plan with what the tool rounds actually did. A
// successful call marks its matching step done, or is recorded as a done
// sub-step of the first open step. A failed mutating call adds an open retry
// sub-step, which a later success of the same step closes.
func Tactical(text string, set *tools.Set, executed []Executed, root string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	for _, ex := range executed {
		desc := DescribeCall(set, ex.Call, root)
		key := normalize(desc)
		mutating := false
		if tool, err := set.Resolve(ex.Call.Name); err == nil {
			mutating = tool.Capability().Effect.Mutating()
		}

		items := parseLines(lines)
		matched := false
		for _, it := range items {
			itKey := normalize(strings.TrimPrefix(it.Text, retryPrefix))
			if itKey != key {
				continue
			}
			matched = true
			if ex.Succeeded {
				lines[it.Line] = markDoneLine(lines[it.Line])
			}
		}
		if matched || !mutating {
			continue
		}

		sub := desc
		if !ex.Succeeded {
			sub = retryPrefix + desc
		}
		lines = insertSubStep(lines, items, itemLine(2, sub, ex.Succeeded))
	}
	return strings.Join(lines, "\n")
}

func parseLines(lines []string) []Item {
	var items []Item
	for i, line := range lines {
		if it, ok := parseLine(line, i); ok {
			items = append(items, it)
		}
	}
	return items
}

// insertSubStep places line after the block of the first open top-level
// item, or at the end when every top-level item is done.
func insertSubStep(lines []string, items []Item, line string) []string {
	at := len(lines)
	for i, it := range items {
		if it.Indent != 0 || it.Done {
			continue
		}
		at = it.Line + 1
		for _, child := range items[i+1:] {
			if child.Indent == 0 {
				break
			}
			at = child.Line + 1
		}
		break
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, line)
	out = append(out, lines[at:]...)
	return out
}

// Summary renders progress for logs and prompts.
func Summary(p Progress) string {
	if p.Total == 0 {
		return "no checklist"
	}
	return fmt.Sprintf("%d/%d steps done", p.Completed, p.Total)
}
