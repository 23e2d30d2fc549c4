package tools

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ListFilesTool lists workspace files matching a doublestar glob.
type ListFilesTool struct {
	ws         *Workspace
	maxResults int
}

// NewListFilesTool creates a list_files tool.
func NewListFilesTool(ws *Workspace, maxResults int) *ListFilesTool {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &ListFilesTool{ws: ws, maxResults: maxResults}
}

func (t *ListFilesTool) Name() string { return ToolListFiles }

func (t *ListFilesTool) Capability() Capability { return ReadOnly() }

func (t *ListFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListFiles,
		Description: "List files in the workspace matching a glob pattern. Supports ** for recursive matching.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"pattern": {Type: "string", Description: "Glob pattern, e.g. '*.go' or 'src/**/*.ts'. Defaults to '**'."},
			},
		},
	}
}

func (t *ListFilesTool) Preview(args map[string]any) string {
	pattern, _ := stringArg(args, "pattern")
	if pattern == "" {
		pattern = "**"
	}
	return "glob " + pattern
}

func (t *ListFilesTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	pattern, _ := stringArg(args, "pattern")
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return errorResult(fmt.Sprintf("invalid glob pattern: %s", pattern))
	}

	matches, err := doublestar.Glob(os.DirFS(t.ws.Root()), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return errorResult(fmt.Sprintf("glob %s: %v", pattern, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(matches)
	truncated := false
	if len(matches) > t.maxResults {
		matches = matches[:t.maxResults]
		truncated = true
	}

	return jsonResult(map[string]any{
		"pattern":   pattern,
		"files":     matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}
