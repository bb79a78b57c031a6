// Package apperr defines the error taxonomy shared by the control core and its collaborators.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a missing relay, meter or row.
var ErrNotFound = errors.New("not found")

// ValidationError is returned for malformed input. No state is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a request contradicts the current state or mode.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// Conflict builds a ConflictError.
func Conflict(resource, format string, args ...interface{}) error {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a failed durable write. The cycle that produced it was rolled back
// and may be retried by the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable is always true for persistence failures.
func (e *PersistenceError) Retryable() bool { return true }

// ExternalServiceError wraps a notification transport failure. It is logged and never retried.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsExternal reports whether err is an ExternalServiceError.
func IsExternal(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
