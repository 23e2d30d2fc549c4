package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileTool creates or overwrites a workspace file.
type WriteFileTool struct {
	ws *Workspace
}

// NewWriteFileTool creates a write_file tool.
func NewWriteFileTool(ws *Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

func (t *WriteFileTool) Name() string { return ToolWriteFile }

func (t *WriteFileTool) Capability() Capability { return Mutates(EffectWrite, "path") }

func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Write a file in the workspace, creating parent directories as needed. Overwrites existing content.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "Relative path to file within workspace"},
				"content": {Type: "string", Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

// Preview diffs the current file content against the content to be written.
func (t *WriteFileTool) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")
	prior := ""
	if full, err := t.ws.Resolve(path); err == nil {
		if data, err := os.ReadFile(full); err == nil {
			prior = string(data)
		}
	}
	return UnifiedDiff(path, prior, content)
}

func (t *WriteFileTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return nil, fmt.Errorf("content is required and must be a string")
	}

	full, err := t.ws.Resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errorResult(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return errorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return jsonResult(map[string]any{
		"path":  path,
		"bytes": len(content),
	})
}
