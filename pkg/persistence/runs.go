package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run is the record of one orchestration run.
//
//nolint:govet // struct alignment optimization not critical for this type.
type Run struct {
	RunID          string     `json:"run_id"`
	ConversationID string     `json:"conversation_id"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	Hops           int        `json:"hops"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// StartRun records a run as running.
func (s *SQLiteStore) StartRun(ctx context.Context, runID, conversationID, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, conversation_id, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, conversationID, mode, RunStatusRunning, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string, hops int, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, hops = ?, error = ?, ended_at = ? WHERE run_id = ?
	`, status, hops, errMsg, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns one run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	runs, err := s.queryRuns(ctx, `
		SELECT run_id, conversation_id, mode, status, hops, error, started_at, ended_at
		FROM runs WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// ListRuns returns the most recent runs of a conversation, newest first.
// An empty conversation id lists runs of every conversation.
func (s *SQLiteStore) ListRuns(ctx context.Context, conversationID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if conversationID == "" {
		return s.queryRuns(ctx, `
		SELECT run_id, conversation_id, mode, status, hops, error, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	}
	return s.queryRuns(ctx, `
		SELECT run_id, conversation_id, mode, status, hops, error, started_at, ended_at
		FROM runs WHERE conversation_id = ? ORDER BY started_at DESC LIMIT ?
	`, conversationID, limit)
}

// MarkInterrupted fails every run still marked running, e.g. after a crash.
func (s *SQLiteStore) MarkInterrupted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = 'interrupted', ended_at = ? WHERE status = ?
	`, RunStatusFailed, formatTime(time.Now()), RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked %d interrupted runs as failed", n)
	}
	return n, nil
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&r.RunID, &r.ConversationID, &r.Mode, &r.Status, &r.Hops, &r.Error, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		if endedAt.Valid {
			t := parseTime(endedAt.String)
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}
