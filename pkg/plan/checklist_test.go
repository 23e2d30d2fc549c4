package plan

import (
	"testing"
)

func TestProgressOf(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Progress
	}{
		{"empty", "", Progress{}},
		{"prose only", "We should refactor.\nThen test.", Progress{}},
		{"dash boxes", "- [x] one\n- [ ] two\n- [X] three", Progress{Completed: 2, Total: 3}},
		{"star boxes", "* [x] one\n* [x] two", Progress{Completed: 2, Total: 2, IsComplete: true}},
		{"numbered boxes", "1. [x] one\n2. [ ] two", Progress{Completed: 1, Total: 2}},
		{"numbered steps", "1. read\n2) write", Progress{Completed: 0, Total: 2}},
		{"mixed with prose", "# Plan\n- [x] a\nnotes\n  - [ ] a.1", Progress{Completed: 1, Total: 2}},
		{"empty box text ignored", "- [ ]   \n- [x] real", Progress{Completed: 1, Total: 1, IsComplete: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProgressOf(tt.text); got != tt.want {
				t.Errorf("ProgressOf(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseChecklistIndent(t *testing.T) {
	items := ParseChecklist("- [ ] top\n  - [x] child\n")
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Indent != 0 || items[1].Indent != 2 || !items[1].Done {
		t.Errorf("Unexpected items %+v", items)
	}
	if items[1].Line != 1 {
		t.Errorf("Expected line index 1, got %d", items[1].Line)
	}
}

func TestMarkDoneLine(t *testing.T) {
	cases := map[string]string{
		"- [ ] step":    "- [x] step",
		"  * [ ] child": "  * [x] child",
		"1. [ ] first":  "1. [x] first",
		"3. plain":      "- [x] plain",
		"- [x] done":    "- [x] done",
		"prose":         "prose",
	}
	for in, want := range cases {
		if got := markDoneLine(in); got != want {
			t.Errorf("markDoneLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressOpen(t *testing.T) {
	if got := (Progress{Completed: 1, Total: 3}).Open(); got != 2 {
		t.Errorf("Open() = %d, want 2", got)
	}
	if Summary(Progress{}) != "no checklist" || Summary(Progress{Completed: 1, Total: 3}) != "1/3 steps done" {
		t.Error("Unexpected summary text")
	}
}
