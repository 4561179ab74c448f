package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrInvalidValue indicates a field has an invalid value
	ErrInvalidValue = errors.New("invalid field value")
)

// FieldError wraps a configuration validation failure with section context.
type FieldError struct {
	Section string // Config section being validated (task, bus, worker, ...)
	Field   string // Field name
	Err     error  // Underlying error
}

// Error returns formatted error message
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Section, e.Field, e.Err)
}

// Unwrap returns the underlying error
func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError creates a new field validation error
func NewFieldError(section, field string, err error) *FieldError {
	return &FieldError{
		Section: section,
		Field:   field,
		Err:     err,
	}
}

// LoadError wraps configuration loading errors with file context
type LoadError struct {
	File string // Configuration file being loaded
	Err  error  // Underlying error
}

// Error returns formatted error message
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{
		File: file,
		Err:  err,
	}
}
