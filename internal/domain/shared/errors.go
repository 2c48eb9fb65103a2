// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "teaching", "collaborator"
	Op      string // Operation that failed, e.g., "Load", "Execute"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrSessionNotFound   = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionExists     = NewDomainError("session", "Create", ErrAlreadyExists, "session already exists")
	ErrMissingSessionID  = NewDomainError("session", "Validate", ErrEmptyValue, "sessionId is required")
	ErrMissingStudentID  = NewDomainError("session", "Validate", ErrEmptyValue, "studentId is required")
	ErrUnknownAction     = NewDomainError("session", "Validate", ErrInvalidInput, "unknown action")
	ErrStaleSessionState = NewDomainError("session", "Save", ErrConcurrentModification, "session state was modified by another request")
	ErrStateMalformed    = NewDomainError("session", "Decode", ErrInvalidFormat, "stored session state is malformed")
	ErrStudentMismatch   = NewDomainError("session", "Validate", ErrInvalidInput, "studentId does not match the session")
	ErrMissingTopic      = NewDomainError("session", "Validate", ErrEmptyValue, "topic is required")
	ErrSessionFailed     = NewDomainError("session", "Orchestrate", ErrInvalidState, "session failed after repeated errors; retry is required")
)

// Teaching domain errors
var (
	ErrTeachingStateNotFound = NewDomainError("teaching", "Find", ErrNotFound, "teaching state not found")
	ErrEmptyMessage          = NewDomainError("teaching", "Validate", ErrEmptyValue, "message is required")
)

// Feedback domain errors
var (
	ErrFeedbackNotFound = NewDomainError("feedback", "FindLatest", ErrNotFound, "no feedback recorded for session")
	ErrInvalidScore     = NewDomainError("feedback", "Validate", ErrValueOutOfRange, "score must be between 0 and 100")
)

// External service errors
var (
	ErrCollaboratorFailed      = NewDomainError("collaborator", "Request", ErrExternalService, "collaborator request failed")
	ErrCollaboratorUnavailable = NewDomainError("collaborator", "Request", ErrServiceUnavailable, "collaborator is unavailable")
	ErrCollaboratorRateLimited = NewDomainError("collaborator", "Request", ErrRateLimited, "collaborator rate limit exceeded")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsAlreadyExists checks if the error is a duplicate-create error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if the error signals a lost concurrent write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
