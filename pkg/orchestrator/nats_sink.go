package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"agentcore/pkg/logx"
)

// NATSSink publishes run records as JSON on
// <prefix>.records.<conversation>, <prefix>.progress.<conversation> and
// <prefix>.done.<conversation>. Publish failures are logged and dropped; the
// run never waits on subscribers.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *logx.Logger
}

// NewNATSSink connects to url.
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentcore"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewNATSSinkFromConn(nc, prefix), nil
}

// NewNATSSinkFromConn wraps an existing connection. Close drains it.
func NewNATSSinkFromConn(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "agentcore"
	}
	return &NATSSink{nc: nc, prefix: prefix, logger: logx.NewLogger("events")}
}

// Subject returns the subject for kind ("records", "progress" or "done").
func (s *NATSSink) Subject(kind, conversationID string) string {
	return subject(s.prefix, kind, conversationID)
}

func (s *NATSSink) publish(kind, conversationID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode %s event: %v", kind, err)
		return
	}
	if err := s.nc.Publish(s.Subject(kind, conversationID), data); err != nil {
		s.logger.Warn("failed to publish %s event: %v", kind, err)
	}
}

func (s *NATSSink) Append(rec Record) { s.publish("records", rec.ConversationID, rec) }

func (s *NATSSink) Progress(ev ProgressEvent) { s.publish("progress", ev.ConversationID, ev) }

func (s *NATSSink) Done(t Terminal) { s.publish("done", t.ConversationID, t) }

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// subject builds a NATS subject, replacing the separator and wildcard
// characters a conversation id might contain.
func subject(prefix, kind, conversationID string) string {
	token := make([]byte, 0, len(conversationID))
	for i := 0; i < len(conversationID); i++ {
		switch c := conversationID[i]; c {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			token = append(token, '_')
		default:
			token = append(token, c)
		}
	}
	if len(token) == 0 {
		token = append(token, '_')
	}
	return prefix + "." + kind + "." + string(token)
}
