package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func enableDebug(t *testing.T, domains ...string) {
	t.Helper()
	SetDebugConfig(true)
	SetDebugDomains(domains)
	t.Cleanup(func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	})
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("scheduler").Info("batch of %d calls", 3)

	output := buf.String()
	if !strings.Contains(output, "] [scheduler] INFO: batch of 3 calls\n") {
		t.Errorf("Unexpected line: %q", output)
	}
}

func TestLogLevels(t *testing.T) {
	enableDebug(t)
	logger := NewLogger("test")

	tests := []struct {
		level   Level
		logFunc func(string, ...any)
	}{
		{LevelDebug, logger.Debug},
		{LevelInfo, logger.Info},
		{LevelWarn, logger.Warn},
		{LevelError, logger.Error},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf := captureOutput(t)
			tt.logFunc("test message")
			if !strings.Contains(buf.String(), " "+tt.level.String()+": ") {
				t.Errorf("Expected level %s in output, got: %s", tt.level, buf.String())
			}
		})
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(false)

	NewLogger("test").Debug("hidden")
	Debug(context.Background(), "graph", "hidden too")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFilter(t *testing.T) {
	buf := captureOutput(t)
	enableDebug(t, "graph", " ")

	ctx := WithRunID(WithComponent(context.Background(), "engine"), "run-1")
	Debug(ctx, "graph", "hop %d", 2)
	Debug(ctx, "plan", "should not appear")

	output := buf.String()
	if !strings.Contains(output, "[engine run-1] DEBUG: [graph] hop 2") {
		t.Errorf("Expected tagged graph line, got: %s", output)
	}
	if strings.Contains(output, "should not appear") {
		t.Errorf("Expected plan domain to be filtered, got: %s", output)
	}
	if !IsDebugEnabled("") {
		t.Error("Component loggers should still debug with a domain filter set")
	}
}

func TestDebugDefaultsComponentToDomain(t *testing.T) {
	buf := captureOutput(t)
	enableDebug(t)

	Debug(context.Background(), "toolexec", "lane ready")
	if !strings.Contains(buf.String(), "[toolexec] DEBUG: [toolexec] lane ready") {
		t.Errorf("Unexpected line: %s", buf.String())
	}
}

func TestRunIDFrom(t *testing.T) {
	if got := RunIDFrom(context.Background()); got != "" {
		t.Errorf("Expected empty run id, got %q", got)
	}
	if got := RunIDFrom(WithRunID(context.Background(), "abc")); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := captureOutput(t)
	NewLogger("test").Info("timestamp test")

	output := buf.String()
	end := strings.Index(output, "]")
	if !strings.HasPrefix(output, "[") || end < 0 {
		t.Fatalf("Could not find timestamp in output: %s", output)
	}
	if _, err := time.Parse(timestampLayout, output[1:end]); err != nil {
		t.Errorf("Invalid timestamp format: %v", err)
	}
}

func TestRingKeepsNewest(t *testing.T) {
	r := newRing(3)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		r.add(Entry{Time: base.Add(time.Duration(i) * time.Second), Message: string(rune('a' + i))})
	}

	got := r.snapshot("", time.Time{})
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("Expected c..e oldest first, got %+v", got)
	}
	if got := r.snapshot("", base.Add(4*time.Second)); len(got) != 1 || got[0].Message != "e" {
		t.Errorf("Expected only e since t+4s, got %+v", got)
	}
}

func TestRingDomainFilter(t *testing.T) {
	r := newRing(4)
	r.add(Entry{Message: "plain"})
	r.add(Entry{Message: "g", Domain: "graph"})
	r.add(Entry{Message: "p", Domain: "plan"})

	got := r.snapshot("GRAPH", time.Time{})
	if len(got) != 2 || got[0].Message != "plain" || got[1].Message != "g" {
		t.Errorf("Expected undomained and graph entries, got %+v", got)
	}
}

func TestRecentSeesLoggedLines(t *testing.T) {
	captureOutput(t)
	since := time.Now().UTC()
	NewLogger("recent").Warn("look here")

	for _, e := range Recent("", since) {
		if e.Component == "recent" && e.Level == LevelWarn && e.Message == "look here" {
			return
		}
	}
	t.Error("Expected logged line in Recent")
}

func TestWrap(t *testing.T) {
	captureOutput(t)
	base := errors.New("boom")

	if Wrap(nil, "ignored") != nil {
		t.Error("Expected nil for nil error")
	}
	err := Wrap(base, "open store")
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to match base")
	}
	if err.Error() != "open store: boom" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
