package models

import "time"

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// LogEntry is one durable log line tied to a task. Sequence is dense and
// gap-free within a task, starting at 0.
type LogEntry struct {
	TaskID    string    `db:"task_id" json:"task_id"`
	Sequence  int64     `db:"sequence" json:"sequence"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Level     LogLevel  `db:"level" json:"level"`
	Component string    `db:"component" json:"component"`
	PhaseID   *string   `db:"phase_id" json:"phase_id,omitempty"`
	Message   string    `db:"message" json:"message"`
}

// LogPage is a page of log entries plus the cursor for the next page.
type LogPage struct {
	Entries    []*LogEntry `json:"entries"`
	NextCursor int64       `json:"next_cursor"`
}
