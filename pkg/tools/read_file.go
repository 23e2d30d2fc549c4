package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ReadFileTool reads a line range of a workspace file.
type ReadFileTool struct {
	ws           *Workspace
	maxSizeBytes int
}

// NewReadFileTool creates a read_file tool.
func NewReadFileTool(ws *Workspace, maxSizeBytes int) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultMaxFileSize
	}
	return &ReadFileTool{ws: ws, maxSizeBytes: maxSizeBytes}
}

func (t *ReadFileTool) Name() string { return ToolReadFile }

func (t *ReadFileTool) Capability() Capability { return ReadOnly() }

func (t *ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read contents of a file from the workspace. Output uses numbered lines. For large files, use offset and limit to read specific sections.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":   {Type: "string", Description: "Relative path to file within workspace"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-based). Defaults to 1."},
				"limit":  {Type: "integer", Description: "Number of lines to read. Defaults to 2000."},
			},
			Required: []string{"path"},
		},
	}
}

// Preview describes the line range about to be read.
func (t *ReadFileTool) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	offset := intArgOrDefault(args, "offset", defaultStartOffset)
	limit := intArgOrDefault(args, "limit", defaultReadLines)
	return fmt.Sprintf("%s lines %d-%d", path, offset, offset+limit-1)
}

func (t *ReadFileTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	offset := intArgOrDefault(args, "offset", defaultStartOffset)
	limit := intArgOrDefault(args, "limit", defaultReadLines)

	full, err := t.ws.Resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}
	f, err := os.Open(full)
	if err != nil {
		return errorResult(fmt.Sprintf("file not found or not readable: %s", path))
	}
	defer f.Close()

	endLine := offset + limit - 1
	var out strings.Builder
	totalLines := 0
	truncated := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		totalLines++
		if totalLines < offset || totalLines > endLine {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		fmt.Fprintf(&out, "%6d\t%s\n", totalLines, line)
		if out.Len() > t.maxSizeBytes {
			truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return errorResult(fmt.Sprintf("read %s: %v", path, err))
	}

	content := out.String()
	if len(content) > t.maxSizeBytes {
		content = content[:t.maxSizeBytes]
	}
	if totalLines > endLine {
		truncated = true
	}

	return jsonResult(map[string]any{
		"content":     content,
		"path":        path,
		"truncated":   truncated,
		"offset":      offset,
		"limit":       limit,
		"total_lines": totalLines,
	})
}
