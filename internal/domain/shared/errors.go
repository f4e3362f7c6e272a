// Package shared contains the error taxonomy used across all domain packages
// of the score portal. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound        = errors.New("entity not found")
	ErrDuplicateRecord = errors.New("duplicate record")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrSectionMismatch = errors.New("section totals do not match their parts")

	// Storage errors
	ErrStorage = errors.New("storage error")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "score", "ranking", "importer"
	Op      string // Operation that failed, e.g., "UpsertScores"
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

// StorageError wraps a repository I/O failure. Callers above the repository
// propagate it as is.
func StorageError(op string, err error) *DomainError {
	return WrapError("storage", op, ErrStorage, "repository failure", err)
}

// ValidationError builds a validation error for the given domain.
func ValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Score domain errors
var (
	ErrStudentNotFound   = NewDomainError("score", "FindStudent", ErrNotFound, "student not found")
	ErrTestNotFound      = NewDomainError("score", "FindTest", ErrNotFound, "test not found")
	ErrEmptyTestName     = NewDomainError("score", "Validate", ErrEmptyValue, "test name is required")
	ErrInvalidTestDate   = NewDomainError("score", "Validate", ErrInvalidFormat, "test date must be YYYY-MM-DD")
	ErrEmptyStudentID    = NewDomainError("score", "Validate", ErrEmptyValue, "student id is required")
	ErrScoreAlreadyExist = NewDomainError("score", "AddScore", ErrDuplicateRecord, "score already recorded for this test")
)

// Ranking domain errors
var (
	ErrUnknownPolicy = NewDomainError("ranking", "ParsePolicy", ErrInvalidInput, "unknown aggregate policy")
)

// Import errors
var (
	ErrImportInProgress = NewDomainError("importer", "Lock", ErrConcurrentModification, "another import for this test is in progress")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if the error reports an already recorded key.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateRecord)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrSectionMismatch)
}

// IsStorage checks if the error came from the repository layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsConflict checks if the error signals a concurrent writer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
