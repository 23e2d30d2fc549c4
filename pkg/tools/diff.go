package tools

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

const diffContextLines = 3

// UnifiedDiff renders before/after text as a unified diff with one hunk per
// group of nearby changes. Identical input yields an empty string.
func UnifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}
	oldLines := splitLines(before)
	newLines := splitLines(after)

	groups := difflib.NewMatcher(oldLines, newLines).GetGroupedOpCodes(diffContextLines)
	hunks := make([]*diff.Hunk, 0, len(groups))
	for _, g := range groups {
		hunks = append(hunks, toHunk(g, oldLines, newLines))
	}
	if len(hunks) == 0 {
		return ""
	}

	out, err := diff.PrintFileDiff(&diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    hunks,
	})
	if err != nil {
		return ""
	}
	return string(out)
}

func toHunk(group []difflib.OpCode, oldLines, newLines []string) *diff.Hunk {
	first, last := group[0], group[len(group)-1]
	var body strings.Builder
	for _, op := range group {
		switch op.Tag {
		case 'e':
			writePrefixed(&body, ' ', oldLines[op.I1:op.I2])
		case 'd':
			writePrefixed(&body, '-', oldLines[op.I1:op.I2])
		case 'i':
			writePrefixed(&body, '+', newLines[op.J1:op.J2])
		case 'r':
			writePrefixed(&body, '-', oldLines[op.I1:op.I2])
			writePrefixed(&body, '+', newLines[op.J1:op.J2])
		}
	}
	origCount := last.I2 - first.I1
	newCount := last.J2 - first.J1
	return &diff.Hunk{
		OrigStartLine: hunkStart(first.I1, origCount),
		OrigLines:     int32(origCount), //nolint:gosec // line counts of an in-memory file
		NewStartLine:  hunkStart(first.J1, newCount),
		NewLines:      int32(newCount), //nolint:gosec // line counts of an in-memory file
		Body:          []byte(body.String()),
	}
}

func writePrefixed(b *strings.Builder, prefix byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(prefix)
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// hunkStart follows the unified diff convention of naming the line before an empty range.
func hunkStart(offset, count int) int32 {
	if count == 0 {
		return int32(offset) //nolint:gosec // line offsets of an in-memory file
	}
	return int32(offset + 1) //nolint:gosec // line offsets of an in-memory file
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
