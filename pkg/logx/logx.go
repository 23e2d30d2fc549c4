// Package logx provides leveled, component-scoped logging with domain-filtered debug output.
//
// Lines look like
//
//	[2025-01-02T15:04:05.000Z] [scheduler] INFO: batch of 3 calls
//
// Debug output is off unless DEBUG=1 (or true) is set or SetDebugConfig is
// called. DEBUG_DOMAINS=graph,toolexec narrows the package-level Debug to the
// named domains.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	ringSize        = 1000
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Entry is one captured log line.
type Entry struct {
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Domain    string    `json:"domain,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// ring keeps the most recent entries in a fixed buffer.
type ring struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
}

func newRing(size int) *ring { return &ring{buf: make([]Entry, size)} }

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns entries oldest first that match domain and are not older
// than since. Entries without a domain match every domain.
func (r *ring) snapshot(domain string, since time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, start := r.next, 0
	if r.full {
		n, start = len(r.buf), r.next
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := r.buf[(start+i)%len(r.buf)]
		if domain != "" && e.Domain != "" && !strings.EqualFold(e.Domain, domain) {
			continue
		}
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

type debugState struct {
	mu      sync.RWMutex
	enabled bool
	domains map[string]bool // nil means every domain
}

func (d *debugState) on(domain string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.enabled {
		return false
	}
	return d.domains == nil || domain == "" || d.domains[domain]
}

//nolint:gochecknoglobals // process-wide logging state
var (
	debug   = &debugState{}
	entries = newRing(ringSize)

	outMu sync.Mutex
	out   io.Writer // nil means stderr
)

func init() { //nolint:gochecknoinits // env driven debug flags
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		SetDebugConfig(true)
	}
	if v := os.Getenv("DEBUG_DOMAINS"); v != "" {
		SetDebugDomains(strings.Split(v, ","))
	}
}

// SetOutput redirects all log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// SetDebugConfig toggles debug logging globally.
func SetDebugConfig(enabled bool) {
	debug.mu.Lock()
	defer debug.mu.Unlock()
	debug.enabled = enabled
}

// SetDebugDomains restricts package-level Debug to the given domains. Empty enables all.
func SetDebugDomains(domains []string) {
	debug.mu.Lock()
	defer debug.mu.Unlock()
	debug.domains = nil
	for _, d := range domains {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if debug.domains == nil {
			debug.domains = make(map[string]bool, len(domains))
		}
		debug.domains[d] = true
	}
}

// IsDebugEnabled reports whether debug output is on for domain. The empty
// domain asks about debug output in general.
func IsDebugEnabled(domain string) bool { return debug.on(domain) }

// Recent returns buffered entries, optionally filtered by domain and time.
func Recent(domain string, since time.Time) []Entry {
	return entries.snapshot(domain, since)
}

func emit(e Entry) {
	prefix := e.Component
	if e.RunID != "" {
		prefix += " " + e.RunID
	}
	msg := e.Message
	if e.Domain != "" {
		msg = "[" + e.Domain + "] " + msg
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", e.Time.Format(timestampLayout), prefix, e.Level, msg)

	outMu.Lock()
	w := out
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line)
	outMu.Unlock()

	entries.add(e)
}

// Logger writes lines tagged with one component name.
type Logger struct {
	component string
}

// NewLogger creates a logger tagged with a component name.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(Entry{
		Time:      time.Now().UTC(),
		Component: l.component,
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if IsDebugEnabled("") {
		l.log(LevelDebug, format, args...)
	}
}

func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

type ctxKey int

const (
	runIDKey ctxKey = iota
	componentKey
)

// WithRunID tags a context so Debug lines carry the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFrom returns the run id stored by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithComponent tags a context with the component name used by Debug.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// Debug logs a domain-filtered debug line tagged with the run id and
// component carried by ctx.
//
//	logx.Debug(ctx, "graph", "hop %d -> %s", hop, nodeID)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabled(domain) {
		return
	}
	component, _ := ctx.Value(componentKey).(string)
	if component == "" {
		component = domain
	}
	emit(Entry{
		Time:      time.Now().UTC(),
		Component: component,
		Level:     LevelDebug,
		Message:   fmt.Sprintf(format, args...),
		Domain:    domain,
		RunID:     RunIDFrom(ctx),
	})
}

var system = NewLogger("system") //nolint:gochecknoglobals // shared fallback logger

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	system.Error("%v", err)
	return err
}

// Wrap logs and returns err annotated with msg. A nil err stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Errorf("%s: %w", msg, err)
}
