package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// DeleteFileTool removes a single workspace file.
type DeleteFileTool struct {
	ws *Workspace
}

// NewDeleteFileTool creates a delete_file tool.
func NewDeleteFileTool(ws *Workspace) *DeleteFileTool {
	return &DeleteFileTool{ws: ws}
}

func (t *DeleteFileTool) Name() string { return ToolDeleteFile }

func (t *DeleteFileTool) Capability() Capability { return Mutates(EffectDelete, "path") }

func (t *DeleteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolDeleteFile,
		Description: "Delete a file from the workspace. Directories are not removed.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Relative path to file within workspace"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *DeleteFileTool) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	return "delete " + path
}

func (t *DeleteFileTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	full, err := t.ws.Resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return errorResult(fmt.Sprintf("file not found: %s", path))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("stat %s: %v", path, err))
	}
	if info.IsDir() {
		return errorResult(fmt.Sprintf("%s is a directory", path))
	}
	if err := os.Remove(full); err != nil {
		return errorResult(fmt.Sprintf("failed to delete: %v", err))
	}
	return jsonResult(map[string]any{"path": path, "deleted": true})
}
