package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace confines file tools to one project root.
type Workspace struct {
	root string
}

// NewWorkspace resolves root to an absolute path.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a workspace-relative path to an absolute one, rejecting escapes.
func (w *Workspace) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	var full string
	if filepath.IsAbs(rel) {
		full = filepath.Clean(rel)
	} else {
		full = filepath.Join(w.root, rel)
	}
	r, err := filepath.Rel(w.root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", rel)
	}
	return full, nil
}

// All returns every built-in workspace tool.
func (w *Workspace) All() []Tool {
	return []Tool{
		NewReadFileTool(w, defaultMaxFileSize),
		NewListFilesTool(w, defaultMaxResults),
		NewSearchFilesTool(w, defaultMaxResults),
		NewWriteFileTool(w),
		NewFileEditTool(w),
		NewDeleteFileTool(w),
	}
}

// ReadOnlyTools returns the built-in tools without side effects.
func (w *Workspace) ReadOnlyTools() []Tool {
	return []Tool{
		NewReadFileTool(w, defaultMaxFileSize),
		NewListFilesTool(w, defaultMaxResults),
		NewSearchFilesTool(w, defaultMaxResults),
	}
}

// intArgOrDefault extracts a positive integer argument. JSON numbers arrive as float64.
func intArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	default:
		return defaultVal
	}
	if n < 1 {
		return defaultVal
	}
	return n
}

func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

func jsonResult(fields map[string]any) (*ExecResult, error) {
	fields["success"] = true
	content, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

func errorResult(msg string) (*ExecResult, error) {
	content, err := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error response: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}
