// Package progress provides real-time progress delivery: typed event
// publishing onto the Redis bus and WebSocket fan-out to subscribed
// clients, with ring-backed catchup for reconnects.
//
// Delivery is advisory. Every publish happens after the corresponding
// durable write (task row or task_logs), so a client that misses events
// reconstructs exact state from the HTTP snapshot and logs endpoints.
// Sequences are monotonic per (task_id, kind); clients detect gaps by
// watching for skips and re-snapshot when they see one.
package progress

import "github.com/curioworks/curio/pkg/models"

// Event kinds carried in every envelope's "type" field.
const (
	KindTaskStatus    = "task.status"
	KindPhaseUpdate   = "phase.update"
	KindPhaseComplete = "phase.complete"
	KindLog           = "log"
	KindTaskCompleted = "task.completed"
	KindTaskError     = "task.error"
)

// TaskStatusPayload is the payload for task.status events. Published on
// creation and on coarse lifecycle transitions.
type TaskStatusPayload struct {
	Type                string `json:"type"` // always KindTaskStatus
	TaskID              string `json:"task_id"`
	Sequence            int64  `json:"sequence"`
	IsRunning           bool   `json:"is_running"`
	CurrentPhaseID      string `json:"current_phase_id,omitempty"`
	CurrentPhaseMessage string `json:"current_phase_message,omitempty"`
	StartedAt           string `json:"started_at,omitempty"` // RFC3339Nano
	UpdatedAt           string `json:"updated_at"`           // RFC3339Nano
	Timestamp           string `json:"timestamp"`            // RFC3339Nano
}

// PhaseUpdatePayload is the payload for phase.update events. Published on
// stage start and on throttled intra-stage progress.
type PhaseUpdatePayload struct {
	Type           string             `json:"type"` // always KindPhaseUpdate
	TaskID         string             `json:"task_id"`
	Sequence       int64              `json:"sequence"`
	PhaseID        string             `json:"phase_id"`
	Status         models.PhaseStatus `json:"status"`
	Message        string             `json:"message,omitempty"`
	ProcessedCount int                `json:"processed_count"`
	TotalCount     int                `json:"total_count"`
	ErrorCount     int                `json:"error_count"`
	ETASeconds     *float64           `json:"eta_seconds,omitempty"`
	Timestamp      string             `json:"timestamp"` // RFC3339Nano
}

// PhaseCompletePayload is the payload for phase.complete events.
type PhaseCompletePayload struct {
	Type            string  `json:"type"` // always KindPhaseComplete
	TaskID          string  `json:"task_id"`
	Sequence        int64   `json:"sequence"`
	PhaseID         string  `json:"phase_id"`
	ProcessedCount  int     `json:"processed_count"`
	TotalCount      int     `json:"total_count"`
	ErrorCount      int     `json:"error_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	Timestamp       string  `json:"timestamp"` // RFC3339Nano
}

// LogPayload is the payload for log events. Sequence mirrors the durable
// task_logs sequence, so clients can splice live lines into a polled log
// without duplication.
type LogPayload struct {
	Type      string          `json:"type"` // always KindLog
	TaskID    string          `json:"task_id"`
	Sequence  int64           `json:"sequence"`
	Level     models.LogLevel `json:"level"`
	Component string          `json:"component,omitempty"`
	PhaseID   string          `json:"phase_id,omitempty"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// TaskCompletedPayload is the payload for task.completed events, published
// once per task after the terminal transition commits.
type TaskCompletedPayload struct {
	Type            string            `json:"type"` // always KindTaskCompleted
	TaskID          string            `json:"task_id"`
	Sequence        int64             `json:"sequence"`
	Status          models.TaskStatus `json:"status"`
	ResultSummary   string            `json:"result_summary,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Timestamp       string            `json:"timestamp"` // RFC3339Nano
}

// TaskErrorPayload is the payload for task.error events, published before
// task.completed when a task fails.
type TaskErrorPayload struct {
	Type         string           `json:"type"` // always KindTaskError
	TaskID       string           `json:"task_id"`
	Sequence     int64            `json:"sequence"`
	ErrorKind    models.ErrorKind `json:"error_kind"`
	ErrorMessage string           `json:"error_message"`
	Timestamp    string           `json:"timestamp"` // RFC3339Nano
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action       string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel      string `json:"channel,omitempty"`       // Channel name (e.g., "task:abc-123")
	LastSequence *int64 `json:"last_sequence,omitempty"` // For catchup
}
