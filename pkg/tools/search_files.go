package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SearchFilesTool greps workspace files with a regular expression.
type SearchFilesTool struct {
	ws         *Workspace
	maxResults int
}

// SearchMatch is one matching line.
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// NewSearchFilesTool creates a search_files tool.
func NewSearchFilesTool(ws *Workspace, maxResults int) *SearchFilesTool {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &SearchFilesTool{ws: ws, maxResults: maxResults}
}

func (t *SearchFilesTool) Name() string { return ToolSearchFiles }

func (t *SearchFilesTool) Capability() Capability { return ReadOnly() }

func (t *SearchFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchFiles,
		Description: "Search workspace files for lines matching a regular expression.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query":   {Type: "string", Description: "RE2 regular expression"},
				"include": {Type: "string", Description: "Optional glob restricting which files are searched"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchFilesTool) Preview(args map[string]any) string {
	query, _ := stringArg(args, "query")
	include, _ := stringArg(args, "include")
	if include != "" {
		return fmt.Sprintf("/%s/ in %s", query, include)
	}
	return fmt.Sprintf("/%s/", query)
}

func (t *SearchFilesTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required and must be a string")
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid regular expression: %v", err))
	}
	include, _ := stringArg(args, "include")
	if include != "" && !doublestar.ValidatePattern(include) {
		return errorResult(fmt.Sprintf("invalid include pattern: %s", include))
	}

	var matches []SearchMatch
	truncated := false
	walkErr := filepath.WalkDir(t.ws.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != t.ws.Root() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.ws.Root(), p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include != "" {
			if ok, _ := doublestar.Match(include, rel); !ok {
				return nil
			}
		}
		found, stop := t.searchFile(p, rel, re, t.maxResults-len(matches))
		matches = append(matches, found...)
		if stop {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return jsonResult(map[string]any{
		"query":     query,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}

func (t *SearchFilesTool) searchFile(full, rel string, re *regexp.Regexp, budget int) ([]SearchMatch, bool) {
	f, err := os.Open(full)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []SearchMatch
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(out) >= budget {
			return out, true
		}
		if len(text) > maxLineLength {
			text = text[:maxLineLength]
		}
		out = append(out, SearchMatch{Path: rel, Line: line, Text: text})
	}
	return out, false
}
