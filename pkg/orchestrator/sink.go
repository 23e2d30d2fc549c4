package orchestrator

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/qa"
	"agentcore/pkg/toolexec"
)

// Terminal run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one message-shaped entry of the caller-visible history.
type Record struct {
	ConversationID string             `json:"conversation_id"`
	RunID          string             `json:"run_id"`
	Role           llm.CompletionRole `json:"role"`
	Content        string             `json:"content"`
	ToolCallID     string             `json:"tool_call_id,omitempty"`
	ToolName       string             `json:"tool_name,omitempty"`
	Status         toolexec.Status    `json:"status,omitempty"`
	Time           time.Time          `json:"time"`
}

// Terminal is emitted once per run.
type Terminal struct {
	ConversationID string     `json:"conversation_id"`
	RunID          string     `json:"run_id"`
	Status         string     `json:"status"`
	Answer         string     `json:"answer,omitempty"`
	Error          string     `json:"error,omitempty"`
	QA             *qa.Report `json:"qa,omitempty"`
	Hops           int        `json:"hops"`
}

// ProgressEvent is a scheduler event tagged with the run it belongs to.
type ProgressEvent struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	toolexec.Event
}

// Sink receives everything the caller sees of a run. Calls for one run are
// never concurrent.
type Sink interface {
	Append(rec Record)
	Progress(ev ProgressEvent)
	Done(t Terminal)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Append(Record)          {}
func (NopSink) Progress(ProgressEvent) {}
func (NopSink) Done(Terminal)          {}

// MemorySink keeps everything in memory. It is safe for concurrent use.
type MemorySink struct {
	mu        sync.Mutex
	records   []Record
	events    []ProgressEvent
	terminals []Terminal
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *MemorySink) Progress(ev ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *MemorySink) Done(t Terminal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminals = append(m.terminals, t)
}

// Records returns a copy of the appended records.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Events returns a copy of the progress events.
func (m *MemorySink) Events() []ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProgressEvent(nil), m.events...)
}

// Terminals returns every terminal state seen, one per run.
func (m *MemorySink) Terminals() []Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Terminal(nil), m.terminals...)
}

// Last returns the most recent terminal state.
func (m *MemorySink) Last() (Terminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.terminals) == 0 {
		return Terminal{}, false
	}
	return m.terminals[len(m.terminals)-1], true
}

// WriterSink writes one JSON object per line: {"type": ..., "data": ...}.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink creates a sink writing JSON lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (w *WriterSink) write(kind string, v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(envelope{Type: kind, Data: v}) //nolint:errchkjson // best-effort stream
}

func (w *WriterSink) Append(rec Record)         { w.write("record", rec) }
func (w *WriterSink) Progress(ev ProgressEvent) { w.write("progress", ev) }
func (w *WriterSink) Done(t Terminal)           { w.write("done", t) }

// MultiSink fans out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Append(rec Record) {
	for _, s := range m {
		s.Append(rec)
	}
}

func (m MultiSink) Progress(ev ProgressEvent) {
	for _, s := range m {
		s.Progress(ev)
	}
}

func (m MultiSink) Done(t Terminal) {
	for _, s := range m {
		s.Done(t)
	}
}
