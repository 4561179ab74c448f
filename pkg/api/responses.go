package api

import "encoding/json"

// TaskCreatedResponse is returned by POST /tasks.
type TaskCreatedResponse struct {
	TaskID string `json:"task_id"`
}

// CancelResponse is returned by POST /tasks/:id/cancel. Acceptance means
// the cancel request was durably recorded; the terminal transition is
// the worker's.
type CancelResponse struct {
	Accepted bool `json:"accepted"`
}

// EventsResponse is returned by GET /tasks/:id/events. Events are the
// raw ring payloads, oldest first.
type EventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

// HealthCheck is the status of one dependency probe.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
}

// ResetResponse is returned by POST /admin/reset.
type ResetResponse struct {
	TasksRevoked int `json:"tasks_revoked"`
}

// ArchiveResponse is returned by POST /admin/archive.
type ArchiveResponse struct {
	TasksArchived int `json:"tasks_archived"`
}
