package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSuccess   TaskStatus = "SUCCESS"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskRevoked   TaskStatus = "REVOKED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskFailed, TaskCancelled, TaskRevoked:
		return true
	}
	return false
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskSuccess, TaskFailed, TaskCancelled, TaskRevoked:
		return true
	}
	return false
}

// ErrorKind classifies why a task failed. Cancelled tasks carry no kind.
type ErrorKind string

const (
	ErrorKindFatal      ErrorKind = "fatal"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindWorkerLost ErrorKind = "worker_lost"
	ErrorKindStuck      ErrorKind = "stuck"
)

// Task is a single queued and executed run of the pipeline.
type Task struct {
	TaskID              string        `db:"task_id" json:"task_id"`
	WorkerTaskID        *string       `db:"worker_task_id" json:"worker_task_id,omitempty"`
	Kind                RunMode       `db:"kind" json:"kind"`
	Status              TaskStatus    `db:"status" json:"status"`
	Preferences         Preferences   `db:"preferences" json:"preferences"`
	PhaseStates         PhaseStateMap `db:"phase_states" json:"phase_states"`
	ProgressPercent     float64       `db:"progress_percent" json:"progress_percent"`
	CurrentPhaseID      *string       `db:"current_phase_id" json:"current_phase_id,omitempty"`
	CurrentPhaseMessage *string       `db:"current_phase_message" json:"current_phase_message,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	StartedAt           *time.Time    `db:"started_at" json:"started_at,omitempty"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
	CompletedAt         *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS          *int64        `db:"duration_ms" json:"duration_ms,omitempty"`
	ResultSummary       *string       `db:"result_summary" json:"result_summary,omitempty"`
	ErrorKind           *ErrorKind    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage        *string       `db:"error_message" json:"error_message,omitempty"`
	ErrorTrace          *string       `db:"error_trace" json:"error_trace,omitempty"`
	IsActive            bool          `db:"is_active" json:"is_active"`
	IsArchived          bool          `db:"is_archived" json:"is_archived"`

	// Operational columns, not part of the client-facing contract.
	PodID           *string    `db:"pod_id" json:"-"`
	LastProgressAt  *time.Time `db:"last_progress_at" json:"-"`
	CancelRequested bool       `db:"cancel_requested" json:"-"`
	LogSeq          int64      `db:"log_seq" json:"-"`
}

// TaskFilters contains filtering options for listing task history.
type TaskFilters struct {
	Status          TaskStatus `json:"status,omitempty"`
	Kind            RunMode    `json:"kind,omitempty"`
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
	IncludeArchived bool       `json:"include_archived,omitempty"`
}

// TaskListResult contains a paginated task history page.
type TaskListResult struct {
	Tasks      []*Task `json:"tasks"`
	TotalCount int     `json:"total_count"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
}

// TerminalUpdate carries the fields a terminal transition writes.
type TerminalUpdate struct {
	Status        TaskStatus
	ResultSummary *string
	ErrorKind     *ErrorKind
	ErrorMessage  *string
	ErrorTrace    *string
}
