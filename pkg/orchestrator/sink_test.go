package orchestrator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/toolexec"
)

func TestWriterSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	memory := NewMemorySink()
	sink := MultiSink{NewWriterSink(&buf), memory}

	sink.Append(Record{ConversationID: "c", RunID: "r", Role: llm.RoleUser, Content: "hi"})
	sink.Progress(ProgressEvent{ConversationID: "c", RunID: "r", Event: toolexec.Event{CallID: "1", ToolName: "read_file", Status: toolexec.StatusExecuting}})
	sink.Done(Terminal{ConversationID: "c", RunID: "r", Status: StatusCompleted, Answer: "bye", Hops: 7})

	var kinds []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		kinds = append(kinds, line.Type)
		if line.Type == "done" {
			var term Terminal
			require.NoError(t, json.Unmarshal(line.Data, &term))
			assert.Equal(t, "bye", term.Answer)
			assert.Equal(t, 7, term.Hops)
		}
	}
	assert.Equal(t, []string{"record", "progress", "done"}, kinds)

	assert.Len(t, memory.Records(), 1)
	assert.Len(t, memory.Events(), 1)
	assert.Len(t, memory.Terminals(), 1)
}

func TestSubjectSanitizesConversationID(t *testing.T) {
	assert.Equal(t, "agentcore.records.abc", subject("agentcore", "records", "abc"))
	assert.Equal(t, "ac.done.team_x_y__", subject("ac", "done", "team.x y*>"))
	assert.Equal(t, "ac.progress._", subject("ac", "progress", ""))
}

// TestNATSSinkPublishes runs against a live server when NATS_URL is set.
func TestNATSSinkPublishes(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 4)
	s, err := sub.ChanSubscribe("agentcore-test.>", received)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	sink, err := NewNATSSink(url, "agentcore-test")
	require.NoError(t, err)
	sink.Append(Record{ConversationID: "conv.1", RunID: "r", Role: llm.RoleAssistant, Content: "hello"})
	sink.Done(Terminal{ConversationID: "conv.1", RunID: "r", Status: StatusCompleted})
	require.NoError(t, sink.Close())

	var subjects []string
	for len(subjects) < 2 {
		select {
		case msg := <-received:
			subjects = append(subjects, msg.Subject)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", subjects)
		}
	}
	assert.ElementsMatch(t, []string{"agentcore-test.records.conv_1", "agentcore-test.done.conv_1"}, subjects)
}
