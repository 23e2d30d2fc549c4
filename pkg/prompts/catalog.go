// Package prompts assembles system prompts from named components.
//
// Each component rendered into a prompt is preceded by a marker line
// "[[component:<name>]]" so the included set can be checked from the prompt text.
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"agentcore/pkg/logx"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// ErrUnknownComponent is returned when a prompt names a component the catalog lacks.
var ErrUnknownComponent = errors.New("unknown prompt component")

//nolint:gochecknoglobals // compiled once
var markerPattern = regexp.MustCompile(`\[\[component:([a-z0-9_]+)\]\]`)

// Data is what component templates can reference.
type Data struct {
	ProjectRoot       string
	ToolDocumentation string
	Plan              string
	Problems          []string
}

type catalogFile struct {
	Components map[string]string `yaml:"components"`
}

// Catalog holds parsed component templates. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	logger    *logx.Logger
}

// NewCatalog creates a catalog holding the built-in components.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]*template.Template),
		logger:    logx.NewLogger("prompts"),
	}
	parsed, err := parseCatalog(defaultCatalog, "defaults.yaml")
	if err != nil {
		return nil, err
	}
	c.templates = parsed
	return c, nil
}

// MustCatalog is NewCatalog for package initialisation and tests.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func parseCatalog(data []byte, source string) (map[string]*template.Template, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog %s: %w", source, err)
	}
	out := make(map[string]*template.Template, len(file.Components))
	for name, text := range file.Components {
		tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse component %s in %s: %w", name, source, err)
		}
		out[name] = tmpl
	}
	return out, nil
}

// LoadOverride merges components from a YAML file over the current set.
// Components the file does not name are kept. A parse failure leaves the
// catalog unchanged.
func (c *Catalog) LoadOverride(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt catalog %s: %w", path, err)
	}
	parsed, err := parseCatalog(data, path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make(map[string]*template.Template, len(c.templates)+len(parsed))
	for name, tmpl := range c.templates {
		merged[name] = tmpl
	}
	for name, tmpl := range parsed {
		merged[name] = tmpl
	}
	c.templates = merged
	c.logger.Info("📝 loaded %d prompt components from %s", len(parsed), path)
	return nil
}

// Has reports whether the catalog defines name.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.templates[name]
	return ok
}

// Components returns the sorted component names.
func (c *Catalog) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render builds a system prompt from components in the given order.
func (c *Catalog) Render(components []string, data Data) (string, error) {
	c.mu.RLock()
	templates := c.templates
	c.mu.RUnlock()

	sections := make([]string, 0, len(components))
	for _, name := range components {
		tmpl, ok := templates[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownComponent, name)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("failed to render component %s: %w", name, err)
		}
		sections = append(sections, Marker(name)+"\n"+strings.TrimSpace(buf.String()))
	}
	return strings.Join(sections, "\n\n"), nil
}

// Marker returns the marker line for a component.
func Marker(name string) string {
	return "[[component:" + name + "]]"
}

// Markers lists the components marked in prompt, in order of appearance.
func Markers(prompt string) []string {
	matches := markerPattern.FindAllStringSubmatch(prompt, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
