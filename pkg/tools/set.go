package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when a name does not resolve in a Set.
var ErrUnknownTool = errors.New("unknown tool")

// Set is the closed list of tools available to one request. Resolution never
// falls back to a global registry.
//
// A Set is immutable after construction and safe for concurrent use.
type Set struct {
	order []string
	tools map[string]Tool
}

// NewSet builds a set. Nil tools, empty names and duplicates are rejected.
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{
		order: make([]string, 0, len(tools)),
		tools: make(map[string]Tool, len(tools)),
	}
	for _, tool := range tools {
		if tool == nil {
			return nil, fmt.Errorf("tool cannot be nil")
		}
		name := tool.Name()
		if name == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if _, exists := s.tools[name]; exists {
			return nil, fmt.Errorf("tool %s declared twice", name)
		}
		s.tools[name] = tool
		s.order = append(s.order, name)
	}
	return s, nil
}

// MustSet is NewSet that panics on error.
func MustSet(tools ...Tool) *Set {
	s, err := NewSet(tools...)
	if err != nil {
		panic(err)
	}
	return s
}

// Resolve looks a tool up by name.
func (s *Set) Resolve(name string) (Tool, error) {
	if s != nil {
		if tool, ok := s.tools[name]; ok {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns tool names in declaration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Subset returns a new set holding only the named tools that exist here.
// Declaration order of the receiver is preserved.
func (s *Set) Subset(names []string) *Set {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	sub := &Set{tools: make(map[string]Tool)}
	if s == nil {
		return sub
	}
	for _, name := range s.order {
		if _, ok := keep[name]; ok {
			sub.tools[name] = s.tools[name]
			sub.order = append(sub.order, name)
		}
	}
	return sub
}

// Definitions returns the model-facing definitions in declaration order.
func (s *Set) Definitions() []ToolDefinition {
	if s == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].Definition())
	}
	return defs
}

// Descriptors returns name and capability for every tool.
func (s *Set) Descriptors() []Descriptor {
	if s == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Descriptor{Name: name, Capability: s.tools[name].Capability()})
	}
	return out
}

// Documentation renders a markdown list of the tools for prompts.
func (s *Set) Documentation() string {
	if s.Len() == 0 {
		return "No tools available"
	}

	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")
	for _, def := range s.Definitions() {
		fmt.Fprintf(&doc, "- **%s** - %s\n", def.Name, def.Description)
	}
	return doc.String()
}
