package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/orchestrator"
	"agentcore/pkg/toolexec"
)

// consoleSink prints tool activity to err and the final answer to out.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

func newConsoleSink(out, err io.Writer) *consoleSink {
	return &consoleSink{out: out, err: err}
}

func (c *consoleSink) Append(rec orchestrator.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case rec.Role == llm.RoleSystem && rec.Content != "":
		fmt.Fprintf(c.err, "\n%s\n", rec.Content)
	case rec.Role == llm.RoleTool && rec.Status == toolexec.StatusFailed:
		fmt.Fprintf(c.err, "   ✗ %s failed\n", rec.ToolName)
	}
}

func (c *consoleSink) Progress(ev orchestrator.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Status {
	case toolexec.StatusExecuting:
		line := ev.ToolName
		if ev.Preview != "" {
			line += " " + ev.Preview
		}
		fmt.Fprintf(c.err, "🔧 %s\n", line)
	case toolexec.StatusSkipped:
		fmt.Fprintf(c.err, "   ⏭  %s skipped\n", ev.ToolName)
	}
}

func (c *consoleSink) Done(t orchestrator.Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Status != orchestrator.StatusCompleted {
		fmt.Fprintf(c.err, "❌ Run %s %s: %s\n", t.RunID, t.Status, t.Error)
		return
	}
	fmt.Fprintln(c.out, strings.TrimSpace(t.Answer))
}
