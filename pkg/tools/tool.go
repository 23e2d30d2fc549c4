// Package tools defines the tool capability contract, per-request tool sets,
// and the built-in workspace tools.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Property describes one argument in a tool's input schema.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// InputSchema is the JSON-schema object a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what the model sees: a name, a description and an argument schema.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecResult carries a tool's JSON output.
type ExecResult struct {
	Content string
}

// Effect is the declared side effect of a tool.
type Effect int

const (
	EffectRead Effect = iota
	EffectWrite
	EffectReplace
	EffectDelete
)

func (e Effect) String() string {
	switch e {
	case EffectRead:
		return "read"
	case EffectWrite:
		return "write"
	case EffectReplace:
		return "replace"
	case EffectDelete:
		return "delete"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Mutating reports whether the effect changes the workspace.
func (e Effect) Mutating() bool {
	return e != EffectRead
}

// Capability is a tool's declared intent. Scheduling and policy decisions are
// made from it, never from the tool's name.
type Capability struct {
	Effect Effect
	// PathArg names the argument holding the target path. Empty means the tool
	// has no single filesystem target.
	PathArg string
}

// ReadOnly is the capability of a tool without side effects.
func ReadOnly() Capability { return Capability{Effect: EffectRead} }

// Mutates declares a path-targeting mutation.
func Mutates(effect Effect, pathArg string) Capability {
	return Capability{Effect: effect, PathArg: pathArg}
}

// TargetPath extracts the target path from call arguments in the canonical
// form of CanonicalPath, so every spelling of one workspace file yields the
// same key.
func (c Capability) TargetPath(args map[string]any, root string) (string, bool) {
	if c.PathArg == "" {
		return "", false
	}
	p, ok := args[c.PathArg].(string)
	if !ok || p == "" {
		return "", false
	}
	return CanonicalPath(root, p), true
}

// CanonicalPath cleans p and, when root is set, expresses it relative to root.
// Relative paths are taken as relative to root, matching Workspace.Resolve.
// Absolute paths outside root stay absolute.
func CanonicalPath(root, p string) string {
	p = filepath.Clean(p)
	if root == "" || !filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	r, err := filepath.Rel(root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return p
	}
	return r
}

// Tool is a named, bounded JSON-in/JSON-out operation.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Capability() Capability
	// Exec returns a JSON object. Expected failures are reported as
	// {"success": false, "error": ...}; a Go error means the call could not run.
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// Previewer is implemented by tools that can describe a call before it runs.
type Previewer interface {
	Preview(args map[string]any) string
}

// Descriptor is the name and capability of a tool, as seen by policy.
type Descriptor struct {
	Name       string
	Capability Capability
}

// AsMap renders the property as a JSON-schema fragment.
func (p Property) AsMap() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Items != nil {
		m["items"] = p.Items.AsMap()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.AsMap()
		}
		m["properties"] = props
	}
	return m
}

// PropertiesMap renders the schema's properties for providers that take raw JSON schema.
func (s InputSchema) PropertiesMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.AsMap()
	}
	return props
}

// AsMap renders the whole schema as a JSON-schema object.
func (s InputSchema) AsMap() map[string]any {
	m := map[string]any{
		"type":       "object",
		"properties": s.PropertiesMap(),
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}
