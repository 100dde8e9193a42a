// Package domain contains the core business entities for the user directory.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same DNI exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserInactive indicates the user is outside the activity window.
	ErrUserInactive = errors.New("user is inactive")

	// ErrEmptyDNI indicates a user was created without a DNI.
	ErrEmptyDNI = errors.New("dni must not be empty")

	// ===========================================
	// Persistence Errors
	// ===========================================

	// ErrMalformedSnapshot indicates the persisted user collection could not be decoded.
	ErrMalformedSnapshot = errors.New("malformed persisted data")

	// ErrPersistence indicates the user collection could not be written to the store.
	ErrPersistence = errors.New("failed to persist directory")

	// ErrDirectoryBusy indicates another writer holds the directory lock.
	ErrDirectoryBusy = errors.New("directory is busy")

	// ErrInvalidTimestamp indicates a timestamp could not be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., a DNI or store key).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
