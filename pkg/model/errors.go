package model

import (
	"errors"
	"fmt"
)

// Coordination errors returned by the scheduler, validator and store.
var (
	// ErrNoWorkAvailable is benign; the caller retries later.
	ErrNoWorkAvailable = errors.New("no work available")
	// ErrLeaseLost means the caller no longer holds the lease and must discard in-flight work.
	ErrLeaseLost = errors.New("lease lost")
	// ErrStaleModuleVersion means the work item refers to a retired module version.
	ErrStaleModuleVersion = errors.New("stale module version")
	// ErrMaxAttemptsExceeded marks a work item that moved to FAILED after too many attempts.
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	// ErrConflictUnresolved marks a result rejected because it contradicts the canonical set.
	ErrConflictUnresolved = errors.New("conflict unresolved")
	// ErrStoreUnavailable wraps transient store failures; operations retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrCodeLeaseLost    ErrorCode = "LEASE_LOST"
	ErrCodeStaleVersion ErrorCode = "STALE_MODULE_VERSION"
	ErrUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrForbidden        ErrorCode = "FORBIDDEN"
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the admin and worker API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}
