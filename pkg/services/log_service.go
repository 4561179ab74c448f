package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/curioworks/curio/pkg/models"
)

// LogService persists the authoritative per-task log with a dense,
// gapless sequence. The counter lives on the tasks row so allocation and
// insert commit atomically.
type LogService struct {
	db *sqlx.DB
}

// NewLogService creates a new LogService.
func NewLogService(db *sqlx.DB) *LogService {
	return &LogService{db: db}
}

// Append writes one log entry and returns its sequence number.
// Sequences start at 0 and never skip: the row-level counter bump and the
// insert share a transaction.
func (s *LogService) Append(ctx context.Context, taskID string, level models.LogLevel, component, message string, phaseID *string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.GetContext(ctx, &seq, `
		UPDATE tasks SET log_seq = log_seq + 1
		WHERE task_id = $1
		RETURNING log_seq - 1`, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate log sequence for task %s: %w", taskID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, sequence, level, component, phase_id, message)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		taskID, seq, level, component, phaseID, message)
	if err != nil {
		return 0, fmt.Errorf("failed to append log for task %s: %w", taskID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit log append: %w", err)
	}
	return seq, nil
}

// List returns a page of log entries with sequence >= sinceSequence, in
// sequence order. NextCursor is the sequence to resume from; clients poll
// with it to read an append-only log without gaps or duplicates.
func (s *LogService) List(ctx context.Context, taskID string, sinceSequence int64, limit int) (*models.LogPage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if sinceSequence < 0 {
		sinceSequence = 0
	}

	entries := []*models.LogEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM task_logs
		WHERE task_id = $1 AND sequence >= $2
		ORDER BY sequence ASC
		LIMIT $3`, taskID, sinceSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs for task %s: %w", taskID, err)
	}

	next := sinceSequence
	if len(entries) > 0 {
		next = entries[len(entries)-1].Sequence + 1
	}
	return &models.LogPage{Entries: entries, NextCursor: next}, nil
}
