package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/contextmgr"
)

// HistoryStore persists conversation history between processes.
type HistoryStore interface {
	// LoadHistory fills into with the stored history and reports whether any existed.
	LoadHistory(ctx context.Context, conversationID string, into *contextmgr.ContextManager) (bool, error)
	SaveHistory(ctx context.Context, conversationID string, from *contextmgr.ContextManager) error
}

// LoadHistory restores the serialized history of a conversation.
func (s *SQLiteStore) LoadHistory(ctx context.Context, conversationID string, into *contextmgr.ContextManager) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_json FROM conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read history %s: %w", conversationID, err)
	}
	if err := into.Deserialize([]byte(data)); err != nil {
		return false, fmt.Errorf("failed to restore history %s: %w", conversationID, err)
	}
	return true, nil
}

// SaveHistory replaces the stored history of a conversation.
func (s *SQLiteStore) SaveHistory(ctx context.Context, conversationID string, from *contextmgr.ContextManager) error {
	data, err := from.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize history %s: %w", conversationID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, messages_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET messages_json = excluded.messages_json, updated_at = excluded.updated_at
	`, conversationID, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save history %s: %w", conversationID, err)
	}
	return nil
}
