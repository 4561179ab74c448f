package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PhaseStatus is the per-stage slice of a task's lifecycle.
// Transitions: pending -> {active|skipped} -> in_progress* -> {completed|failed}.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseActive     PhaseStatus = "active"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseFailed     PhaseStatus = "failed"
)

// PhaseState records one stage's progress within a task.
type PhaseState struct {
	StageID        string      `json:"stage_id"`
	Status         PhaseStatus `json:"status"`
	ProcessedCount int         `json:"processed_count"`
	TotalCount     int         `json:"total_count"`
	ErrorCount     int         `json:"error_count"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// PhaseStateMap maps stage_id to its PhaseState. Stored as a JSONB column.
type PhaseStateMap map[string]PhaseState

// Value implements driver.Valuer for JSONB storage.
func (m PhaseStateMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (m *PhaseStateMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = PhaseStateMap{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported phase_states source type %T", src)
}
