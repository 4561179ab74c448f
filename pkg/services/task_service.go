package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/curioworks/curio/pkg/models"
)

// TaskService is the store of record for task lifecycle state. It is the
// sole authority on final status; progress events and logs are advisory.
type TaskService struct {
	db *sqlx.DB
}

// NewTaskService creates a new TaskService.
func NewTaskService(db *sqlx.DB) *TaskService {
	return &TaskService{db: db}
}

// TaskMutation carries the fields a compare-and-set update may write.
// Nil fields are left untouched.
type TaskMutation struct {
	Status              *models.TaskStatus
	StartedAt           *time.Time
	PodID               *string
	WorkerTaskID        *string
	CurrentPhaseID      *string
	CurrentPhaseMessage *string
	ProgressPercent     *float64
	ResultSummary       *string
}

// CreateTask atomically creates a PENDING task and claims the active-task
// pointer. Exactly one of two racing creations succeeds; the loser gets
// ErrTaskAlreadyActive. The partial unique index on tasks(is_active)
// backs the transactional check at the schema level.
func (s *TaskService) CreateTask(ctx context.Context, prefs models.Preferences) (*models.Task, error) {
	// Background context with timeout: task creation must not be lost to
	// a client disconnect mid-transaction.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the singleton pointer serializes racing creations.
	var current sql.NullString
	if err := tx.GetContext(writeCtx, &current,
		`SELECT task_id FROM active_task WHERE id = 'x' FOR UPDATE`); err != nil {
		return nil, fmt.Errorf("failed to read active task pointer: %w", err)
	}
	if current.Valid {
		return nil, ErrTaskAlreadyActive
	}

	taskID := uuid.New().String()
	var task models.Task
	err = tx.QueryRowxContext(writeCtx, `
		INSERT INTO tasks (task_id, kind, status, preferences, is_active)
		VALUES ($1, $2, 'PENDING', $3, TRUE)
		RETURNING *`,
		taskID, prefs.RunMode, prefs,
	).StructScan(&task)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTaskAlreadyActive
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	res, err := tx.ExecContext(writeCtx,
		`UPDATE active_task SET task_id = $1 WHERE id = 'x' AND task_id IS NULL`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim active task pointer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTaskAlreadyActive
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task creation: %w", err)
	}
	return &task, nil
}

// UpdateTask performs a compare-and-set update keyed on updated_at.
// Returns ErrStaleTask when the task changed underneath the caller and
// ErrTaskTerminal when the task has already completed.
func (s *TaskService) UpdateTask(ctx context.Context, taskID string, expectedUpdatedAt time.Time, m TaskMutation) (*models.Task, error) {
	sets := []string{"updated_at = now()"}
	args := []any{taskID, expectedUpdatedAt}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if m.Status != nil {
		add("status", *m.Status)
	}
	if m.StartedAt != nil {
		add("started_at", *m.StartedAt)
		add("last_progress_at", *m.StartedAt)
	}
	if m.PodID != nil {
		add("pod_id", *m.PodID)
	}
	if m.WorkerTaskID != nil {
		add("worker_task_id", *m.WorkerTaskID)
	}
	if m.CurrentPhaseID != nil {
		add("current_phase_id", *m.CurrentPhaseID)
	}
	if m.CurrentPhaseMessage != nil {
		add("current_phase_message", *m.CurrentPhaseMessage)
	}
	if m.ProgressPercent != nil {
		add("progress_percent", *m.ProgressPercent)
	}
	if m.ResultSummary != nil {
		add("result_summary", *m.ResultSummary)
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET %s
		WHERE task_id = $1 AND updated_at = $2 AND completed_at IS NULL
		RETURNING *`, strings.Join(sets, ", "))

	var task models.Task
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&task)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	return nil, s.classifyMissedWrite(ctx, taskID, ErrStaleTask)
}

// MarkRunning transitions a PENDING task to RUNNING and records the
// claiming worker. Only the first claimant succeeds; a task that is no
// longer PENDING yields ErrStaleTask (or ErrTaskTerminal/ErrNotFound).
func (s *TaskService) MarkRunning(ctx context.Context, taskID, podID, deliveryID string) (*models.Task, error) {
	var task models.Task
	err := s.db.QueryRowxContext(ctx, `
		UPDATE tasks SET
			status = 'RUNNING',
			started_at = now(),
			pod_id = $2,
			worker_task_id = $3,
			updated_at = now(),
			last_progress_at = now()
		WHERE task_id = $1 AND status = 'PENDING'
		RETURNING *`,
		taskID, podID, deliveryID,
	).StructScan(&task)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissedWrite(ctx, taskID, ErrStaleTask)
		}
		return nil, fmt.Errorf("failed to mark task %s running: %w", taskID, err)
	}
	return &task, nil
}

// SetPhase atomically replaces one stage's phase state and refreshes the
// task's progress fields. Progress percent only ever moves forward.
// Rejected with ErrTaskTerminal once the task has completed.
func (s *TaskService) SetPhase(ctx context.Context, taskID string, phase models.PhaseState, progressPercent float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			phase_states = jsonb_set(phase_states, ARRAY[$2], $3::jsonb, true),
			current_phase_id = $2,
			current_phase_message = $4,
			progress_percent = GREATEST(progress_percent, $5),
			updated_at = now(),
			last_progress_at = now()
		WHERE task_id = $1 AND completed_at IS NULL`,
		taskID, phase.StageID, mustJSON(phase), phase.Message, clampPercent(progressPercent))
	if err != nil {
		return fmt.Errorf("failed to set phase %s on task %s: %w", phase.StageID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.classifyMissedWrite(ctx, taskID, ErrTaskTerminal)
	}
	return nil
}

// RequestCancel durably flags a non-terminal task for cooperative
// cancellation. The worker observes the flag and performs the transition.
func (s *TaskService) RequestCancel(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET cancel_requested = TRUE, updated_at = now()
		WHERE task_id = $1 AND completed_at IS NULL`, taskID)
	if err != nil {
		return fmt.Errorf("failed to request cancel for task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.classifyMissedWrite(ctx, taskID, ErrTaskTerminal)
	}
	return nil
}

// Heartbeat bumps last_progress_at only. It deliberately leaves
// updated_at alone so it can never break the owning worker's CAS.
func (s *TaskService) Heartbeat(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET last_progress_at = now()
		WHERE task_id = $1 AND completed_at IS NULL`, taskID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat task %s: %w", taskID, err)
	}
	return nil
}

// MarkTerminal performs the terminal transition: sets the final status,
// stamps completed_at and duration_ms, releases the active-task pointer,
// and (on success) pins progress to 100. Exactly-once: a second call for
// the same task returns ErrTaskTerminal.
func (s *TaskService) MarkTerminal(ctx context.Context, taskID string, upd models.TerminalUpdate) (*models.Task, error) {
	if !upd.Status.IsTerminal() {
		return nil, NewValidationError("status", fmt.Sprintf("%s is not a terminal status", upd.Status))
	}

	// Terminal writes run on a background context: a cancelled task ctx
	// must not be able to lose the terminal transition.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var task models.Task
	err = tx.QueryRowxContext(writeCtx, `
		UPDATE tasks SET
			status = $2,
			completed_at = now(),
			duration_ms = CASE WHEN started_at IS NOT NULL
				THEN (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint
				ELSE NULL END,
			progress_percent = CASE WHEN $2 = 'SUCCESS' THEN 100 ELSE progress_percent END,
			result_summary = COALESCE($3, result_summary),
			error_kind = $4,
			error_message = $5,
			error_trace = $6,
			is_active = FALSE,
			updated_at = now()
		WHERE task_id = $1 AND completed_at IS NULL
		RETURNING *`,
		taskID, upd.Status, upd.ResultSummary, upd.ErrorKind, upd.ErrorMessage, upd.ErrorTrace,
	).StructScan(&task)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissedWrite(writeCtx, taskID, ErrTaskTerminal)
		}
		return nil, fmt.Errorf("failed to mark task %s terminal: %w", taskID, err)
	}

	if _, err := tx.ExecContext(writeCtx,
		`UPDATE active_task SET task_id = NULL WHERE task_id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("failed to release active task pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit terminal transition: %w", err)
	}
	return &task, nil
}

// GetTask retrieves a task by ID.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &task, nil
}

// GetActiveTask returns the current active task, or nil when idle.
func (s *TaskService) GetActiveTask(ctx context.Context) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, `
		SELECT t.* FROM tasks t
		JOIN active_task a ON a.task_id = t.task_id`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active task: %w", err)
	}
	return &task, nil
}

// ListTasks returns a page of task history, newest first.
func (s *TaskService) ListTasks(ctx context.Context, filters models.TaskFilters) (*models.TaskListResult, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filters.Status != "" {
		if !filters.Status.Valid() {
			return nil, NewValidationError("status", "unknown task status: "+string(filters.Status))
		}
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Kind != "" {
		if !filters.Kind.Valid() {
			return nil, NewValidationError("kind", "unknown task kind: "+string(filters.Kind))
		}
		args = append(args, filters.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filters.IncludeArchived {
		where = append(where, "NOT is_archived")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM tasks WHERE "+cond, args...); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	tasks := []*models.Task{}
	err := s.db.SelectContext(ctx, &tasks, fmt.Sprintf(
		"SELECT * FROM tasks WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return &models.TaskListResult{
		Tasks:      tasks,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// ListUnfinished returns every non-terminal task, oldest first.
func (s *TaskService) ListUnfinished(ctx context.Context) ([]*models.Task, error) {
	tasks := []*models.Task{}
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished tasks: %w", err)
	}
	return tasks, nil
}

// FindStuck returns non-terminal tasks whose last progress update (or
// creation, if none) is older than the threshold.
func (s *TaskService) FindStuck(ctx context.Context, threshold time.Duration) ([]*models.Task, error) {
	cutoff := time.Now().Add(-threshold)
	tasks := []*models.Task{}
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks
		WHERE status IN ('PENDING', 'RUNNING')
		  AND COALESCE(last_progress_at, created_at) < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck tasks: %w", err)
	}
	return tasks, nil
}

// FindOwnedUnfinished returns non-terminal tasks owned by the given pod.
// Used by startup orphan cleanup after a crash of this pod.
func (s *TaskService) FindOwnedUnfinished(ctx context.Context, podID string) ([]*models.Task, error) {
	tasks := []*models.Task{}
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks
		WHERE status IN ('PENDING', 'RUNNING') AND pod_id = $1
		ORDER BY created_at ASC`, podID)
	if err != nil {
		return nil, fmt.Errorf("failed to find owned unfinished tasks: %w", err)
	}
	return tasks, nil
}

// ArchiveTasksOlderThan flags terminal tasks older than retention as
// archived. History and logs are never deleted.
func (s *TaskService) ArchiveTasksOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET is_archived = TRUE, updated_at = now()
		WHERE completed_at IS NOT NULL AND completed_at < $1 AND NOT is_archived`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// classifyMissedWrite explains why a conditional write matched no rows:
// the task does not exist, is terminal, or (for CAS callers) was changed
// concurrently.
func (s *TaskService) classifyMissedWrite(ctx context.Context, taskID string, liveErr error) error {
	var status models.TaskStatus
	err := s.db.GetContext(ctx, &status, `SELECT status FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}
	if status.IsTerminal() {
		return ErrTaskTerminal
	}
	return liveErr
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// PhaseState marshals unconditionally; this cannot happen.
		panic(err)
	}
	return b
}
