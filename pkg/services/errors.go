// Package services provides the durable service layer over Postgres:
// task records and phase states, the per-item state repository, dense
// per-task logs, and the materialized knowledge rows.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrTaskAlreadyActive is returned when task creation races or overlaps
	// with an existing active task
	ErrTaskAlreadyActive = errors.New("another task is already active")

	// ErrTaskTerminal is returned when mutating a task that has reached a
	// terminal status
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrStaleTask is returned when a compare-and-set on updated_at fails
	ErrStaleTask = errors.New("task was modified concurrently")

	// ErrItemVersionConflict is returned when an optimistic item update
	// loses against a concurrent writer
	ErrItemVersionConflict = errors.New("item version conflict")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
