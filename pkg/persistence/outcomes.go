package persistence

import (
	"context"
	"fmt"
	"time"

	"agentcore/pkg/reasoning"
)

// Save appends a parsed reasoning outcome.
func (s *SQLiteStore) Save(ctx context.Context, o reasoning.Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reasoning_outcomes
			(conversation_id, run_id, plan_delta, next_action, risks, delivery, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ConversationID, o.RunID, o.PlanDelta, o.NextAction, o.Risks, string(o.Delivery), formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save reasoning outcome: %w", err)
	}
	return nil
}

// Latest returns the most recently saved outcome of a conversation.
func (s *SQLiteStore) Latest(ctx context.Context, conversationID string) (reasoning.Outcome, bool, error) {
	list, err := s.queryOutcomes(ctx, `
		SELECT conversation_id, run_id, plan_delta, next_action, risks, delivery, created_at
		FROM reasoning_outcomes WHERE conversation_id = ? ORDER BY id DESC LIMIT 1
	`, conversationID)
	if err != nil || len(list) == 0 {
		return reasoning.Outcome{}, false, err
	}
	return list[0], true, nil
}

// List returns a conversation's outcomes, oldest first.
func (s *SQLiteStore) List(ctx context.Context, conversationID string) ([]reasoning.Outcome, error) {
	return s.queryOutcomes(ctx, `
		SELECT conversation_id, run_id, plan_delta, next_action, risks, delivery, created_at
		FROM reasoning_outcomes WHERE conversation_id = ? ORDER BY id ASC
	`, conversationID)
}

func (s *SQLiteStore) queryOutcomes(ctx context.Context, query string, args ...any) ([]reasoning.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reasoning outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []reasoning.Outcome
	for rows.Next() {
		var o reasoning.Outcome
		var delivery, createdAt string
		if err := rows.Scan(&o.ConversationID, &o.RunID, &o.PlanDelta, &o.NextAction, &o.Risks, &delivery, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reasoning outcome: %w", err)
		}
		o.Delivery = reasoning.Delivery(delivery)
		o.CreatedAt = parseTime(createdAt)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reasoning outcomes: %w", err)
	}
	return out, nil
}
