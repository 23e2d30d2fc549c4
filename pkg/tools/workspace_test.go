package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\nhello\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pkg", "util.go"), []byte("package pkg\n\n// TODO tidy\nfunc Util() {}\n"), 0644))
	ws, err := NewWorkspace(root)
	require.NoError(t, err)
	return ws
}

func decode(t *testing.T, res *ExecResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &m))
	return m
}

func TestWorkspaceResolveRejectsEscape(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.Resolve("../etc/passwd")
	assert.Error(t, err)
	_, err = ws.Resolve("/etc/passwd")
	assert.Error(t, err)
	p, err := ws.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "src", "main.go"), p)
}

func TestReadFileRange(t *testing.T) {
	ws := newTestWorkspace(t)
	tool := NewReadFileTool(ws, 0)

	res, err := tool.Exec(context.Background(), map[string]any{"path": "src/main.go", "offset": float64(3), "limit": float64(1)})
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, true, m["success"])
	assert.Contains(t, m["content"], "func main() {}")
	assert.NotContains(t, m["content"], "package main")
	assert.Equal(t, float64(3), m["total_lines"])

	assert.Equal(t, "src/main.go lines 3-3", tool.Preview(map[string]any{"path": "src/main.go", "offset": 3.0, "limit": 1.0}))
}

func TestReadFileMissing(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := NewReadFileTool(ws, 0).Exec(context.Background(), map[string]any{"path": "nope.txt"})
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["success"])

	_, err = NewReadFileTool(ws, 0).Exec(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestListFilesGlob(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := NewListFilesTool(ws, 0).Exec(context.Background(), map[string]any{"pattern": "src/**/*.go"})
	require.NoError(t, err)
	m := decode(t, res)
	files, _ := m["files"].([]any)
	assert.ElementsMatch(t, []any{"src/main.go", "src/pkg/util.go"}, files)

	res, err = NewListFilesTool(ws, 0).Exec(context.Background(), map[string]any{"pattern": "[unclosed"})
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["success"])
}

func TestSearchFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := NewSearchFilesTool(ws, 0).Exec(context.Background(), map[string]any{"query": "TODO", "include": "**/*.go"})
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, float64(1), m["count"])
	matches := m["matches"].([]any)
	first := matches[0].(map[string]any)
	assert.Equal(t, "src/pkg/util.go", first["path"])
	assert.Equal(t, float64(3), first["line"])
}

func TestWriteEditDelete(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	res, err := NewWriteFileTool(ws).Exec(ctx, map[string]any{"path": "docs/notes.txt", "content": "one\ntwo\n"})
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])

	edit := NewFileEditTool(ws)
	preview := edit.Preview(map[string]any{"path": "docs/notes.txt", "old_string": "two", "new_string": "three"})
	assert.Contains(t, preview, "-two")
	assert.Contains(t, preview, "+three")

	res, err = edit.Exec(ctx, map[string]any{"path": "docs/notes.txt", "old_string": "two", "new_string": "three"})
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])
	data, err := os.ReadFile(filepath.Join(ws.Root(), "docs", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\nthree\n", string(data))

	res, err = edit.Exec(ctx, map[string]any{"path": "docs/notes.txt", "old_string": "absent", "new_string": "x"})
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["success"])

	res, err = NewDeleteFileTool(ws).Exec(ctx, map[string]any{"path": "docs/notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])
	_, err = os.Stat(filepath.Join(ws.Root(), "docs", "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestEditAmbiguousMatch(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "dup.txt"), []byte("x\nx\n"), 0644))
	res, err := NewFileEditTool(ws).Exec(context.Background(), map[string]any{"path": "dup.txt", "old_string": "x", "new_string": "y"})
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, false, m["success"])
	assert.True(t, strings.Contains(m["error"].(string), "2 locations"))
}

func TestWorkspaceToolCapabilities(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, tool := range ws.ReadOnlyTools() {
		assert.False(t, tool.Capability().Effect.Mutating(), tool.Name())
	}
	mutating := 0
	for _, tool := range ws.All() {
		if tool.Capability().Effect.Mutating() {
			mutating++
			assert.Equal(t, "path", tool.Capability().PathArg, tool.Name())
		}
	}
	assert.Equal(t, 3, mutating)
}

func TestUnifiedDiff(t *testing.T) {
	out := UnifiedDiff("a.txt", "x\ny\n", "x\nz\n")
	assert.Contains(t, out, "--- a/a.txt")
	assert.Contains(t, out, "+++ b/a.txt")
	assert.Contains(t, out, " x\n-y\n+z\n")
	assert.Empty(t, UnifiedDiff("a.txt", "same", "same"))
}

func TestUnifiedDiffSeparateHunks(t *testing.T) {
	var before []string
	for i := 1; i <= 20; i++ {
		before = append(before, fmt.Sprintf("line %d", i))
	}
	after := append([]string(nil), before...)
	after[1] = "changed 2"
	after[17] = "changed 18"

	out := UnifiedDiff("f.txt", strings.Join(before, "\n")+"\n", strings.Join(after, "\n")+"\n")
	assert.Contains(t, out, "@@ -1,5 +1,5 @@")
	assert.Contains(t, out, "-line 2\n+changed 2\n")
	assert.Contains(t, out, "@@ -15,6 +15,6 @@")
	assert.Contains(t, out, "-line 18\n+changed 18\n")
	assert.NotContains(t, out, "-line 10", "unchanged middle lines stay out of the diff")
}

func TestUnifiedDiffNewFile(t *testing.T) {
	out := UnifiedDiff("n.txt", "", "a\nb\n")
	assert.Contains(t, out, "@@ -0,0 +1,2 @@")
	assert.Contains(t, out, "+a\n+b\n")
}
