// Package shared contains common domain types and errors used across the
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Concurrency errors
	ErrLockNotAcquired = errors.New("lock not acquired")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "entitlement", "payment", "course"
	Op      string // Operation that failed, e.g., "Get", "Advance"
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

// Entitlement domain errors
var (
	ErrEntitlementNotFound = NewDomainError("entitlement", "Get", ErrNotFound, "entitlement not found")
	ErrInvalidUserID       = NewDomainError("entitlement", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidLessonIndex  = NewDomainError("entitlement", "Advance", ErrValueOutOfRange, "invalid lesson index")
	ErrEntitlementLocked   = NewDomainError("entitlement", "Lock", ErrLockNotAcquired, "entitlement is locked")
)

// Payment domain errors
var (
	ErrNotActivationToken       = NewDomainError("payment", "ParseActivation", ErrInvalidInput, "not an activation token")
	ErrMalformedActivationToken = NewDomainError("payment", "ParseActivation", ErrInvalidFormat, "malformed activation token")
	ErrInvalidCheckoutTemplate  = NewDomainError("payment", "Validate", ErrInvalidFormat, "checkout URL has no user placeholder")
)

// Course domain errors
var (
	ErrEmptyCatalog = NewDomainError("course", "Validate", ErrEmptyValue, "lesson catalog is empty")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
