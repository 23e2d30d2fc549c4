package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileEditTool performs an exact, single-occurrence string replacement.
type FileEditTool struct {
	ws *Workspace
}

// NewFileEditTool creates an edit_file tool.
func NewFileEditTool(ws *Workspace) *FileEditTool {
	return &FileEditTool{ws: ws}
}

func (t *FileEditTool) Name() string { return ToolEditFile }

func (t *FileEditTool) Capability() Capability { return Mutates(EffectReplace, "path") }

func (t *FileEditTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolEditFile,
		Description: "Replace an exact string match in a file with new content. The old_string must appear exactly once in the file.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":       {Type: "string", Description: "Relative path to file within workspace"},
				"old_string": {Type: "string", Description: "The exact string to find. Must match exactly one location."},
				"new_string": {Type: "string", Description: "The replacement string. Empty deletes the matched text."},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
	}
}

// Preview renders the replacement as a unified diff.
func (t *FileEditTool) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	oldString, _ := stringArg(args, "old_string")
	newString, _ := stringArg(args, "new_string")
	return UnifiedDiff(path, oldString, newString)
}

func (t *FileEditTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	oldString, ok := stringArg(args, "old_string")
	if !ok || oldString == "" {
		return nil, fmt.Errorf("old_string is required and must be a non-empty string")
	}
	newString, ok := stringArg(args, "new_string")
	if !ok {
		return nil, fmt.Errorf("new_string is required and must be a string")
	}

	full, err := t.ws.Resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return errorResult(fmt.Sprintf("file not found or not readable: %s", path))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := string(data)
	switch count := strings.Count(content, oldString); {
	case count == 0:
		return errorResult("old_string not found in file. Make sure it matches the file content exactly, including whitespace and indentation.")
	case count > 1:
		return errorResult(fmt.Sprintf("old_string matches %d locations in the file. It must match exactly once. Include more surrounding context to make it unique.", count))
	}

	updated := strings.Replace(content, oldString, newString, 1)
	info, err := os.Stat(full)
	if err != nil {
		return errorResult(fmt.Sprintf("stat %s: %v", path, err))
	}
	if err := os.WriteFile(full, []byte(updated), info.Mode().Perm()); err != nil {
		return errorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return jsonResult(map[string]any{
		"path":    path,
		"message": "Edit applied successfully",
	})
}
