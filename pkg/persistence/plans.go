package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/plan"
)

// Get returns the stored plan for a conversation.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (plan.Plan, bool, error) {
	if conversationID == "" {
		return plan.Plan{}, false, plan.ErrEmptyConversationID
	}
	p, ok, err := getPlan(ctx, s.db, conversationID)
	if err != nil {
		return plan.Plan{}, false, err
	}
	return p, ok, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPlan(ctx context.Context, q queryRower, conversationID string) (plan.Plan, bool, error) {
	var text, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT text, updated_at FROM plans WHERE conversation_id = ?`, conversationID,
	).Scan(&text, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Plan{ConversationID: conversationID}, false, nil
	}
	if err != nil {
		return plan.Plan{}, false, fmt.Errorf("failed to read plan %s: %w", conversationID, err)
	}
	return plan.Plan{ConversationID: conversationID, Text: text, UpdatedAt: parseTime(updatedAt)}, true, nil
}

// Update applies fn inside one transaction. fn must not call back into the
// store: the store's single connection is held until commit.
func (s *SQLiteStore) Update(ctx context.Context, conversationID string, fn plan.UpdateFunc) (plan.Plan, error) {
	if conversationID == "" {
		return plan.Plan{}, plan.ErrEmptyConversationID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("failed to begin plan transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, _, err := getPlan(ctx, tx, conversationID)
	if err != nil {
		return plan.Plan{}, err
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	next = plan.Stamp(conversationID, next, time.Now())

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (conversation_id, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
	`, conversationID, next.Text, formatTime(next.UpdatedAt))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("failed to write plan %s: %w", conversationID, err)
	}
	if err := tx.Commit(); err != nil {
		return plan.Plan{}, fmt.Errorf("failed to commit plan %s: %w", conversationID, err)
	}
	s.logger.Debug("plan %s updated: %s", conversationID, plan.Summary(next.Progress()))
	return next, nil
}

// Reset deletes a conversation's plan.
func (s *SQLiteStore) Reset(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return plan.ErrEmptyConversationID
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to reset plan %s: %w", conversationID, err)
	}
	return nil
}
