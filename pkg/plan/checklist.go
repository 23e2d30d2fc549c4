package plan

import (
	"regexp"
	"strings"
)

//nolint:gochecknoglobals // compiled once
var (
	// "- [ ] x", "* [x] x", "1. [x] x", "2) [ ] x"
	boxPattern = regexp.MustCompile(`^(\s*)(?:[-*+]|\d+[.)])\s+\[([ xX])\]\s+(.*)$`)
	// "1. x" without a box is an open step
	numberedPattern = regexp.MustCompile(`^(\s*)\d+[.)]\s+(.*)$`)
)

// Item is one checklist line.
type Item struct {
	Line   int // index into the plan's lines
	Indent int
	Text   string
	Done   bool
}

// Progress summarises a checklist.
type Progress struct {
	Completed  int
	Total      int
	IsComplete bool
}

// Open returns the number of unfinished items.
func (p Progress) Open() int { return p.Total - p.Completed }

func parseLine(line string, index int) (Item, bool) {
	if m := boxPattern.FindStringSubmatch(line); m != nil {
		text := strings.TrimSpace(m[3])
		if text == "" {
			return Item{}, false
		}
		return Item{Line: index, Indent: len(m[1]), Text: text, Done: m[2] != " "}, true
	}
	if m := numberedPattern.FindStringSubmatch(line); m != nil {
		text := strings.TrimSpace(m[2])
		if text == "" {
			return Item{}, false
		}
		return Item{Line: index, Indent: len(m[1]), Text: text}, true
	}
	return Item{}, false
}

// ParseChecklist returns the checklist items of text in order. Lines that are
// not items are ignored.
func ParseChecklist(text string) []Item {
	var items []Item
	for i, line := range strings.Split(text, "\n") {
		if item, ok := parseLine(line, i); ok {
			items = append(items, item)
		}
	}
	return items
}

// ProgressOf computes the progress of text. An empty checklist is not complete.
func ProgressOf(text string) Progress {
	items := ParseChecklist(text)
	p := Progress{Total: len(items)}
	for _, it := range items {
		if it.Done {
			p.Completed++
		}
	}
	p.IsComplete = p.Total > 0 && p.Completed == p.Total
	return p
}

// normalize is the identity used to match steps across plan versions.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".:")
	return strings.Join(strings.Fields(s), " ")
}

// markDoneLine rewrites an item line as done, keeping its indentation and text.
func markDoneLine(line string) string {
	if m := boxPattern.FindStringSubmatch(line); m != nil {
		if m[2] != " " {
			return line
		}
		idx := strings.Index(line, "[ ]")
		return line[:idx] + "[x]" + line[idx+3:]
	}
	if m := numberedPattern.FindStringSubmatch(line); m != nil {
		return m[1] + "- [x] " + strings.TrimSpace(m[2])
	}
	return line
}

func itemLine(indent int, text string, done bool) string {
	box := "[ ]"
	if done {
		box = "[x]"
	}
	return strings.Repeat(" ", indent) + "- " + box + " " + text
}
