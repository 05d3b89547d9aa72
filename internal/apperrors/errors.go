package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err with a formatted message and marks it retryable.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: wrapf(err, message, args...)}
}

// FatalError indicates an error that is unlikely to be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err with a formatted message and marks it fatal. A fatal
// queue event is dropped without retry.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: wrapf(err, message, args...)}
}

func wrapf(err error, message string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// Sentinel errors shared by storage, the transition engine and both API
// surfaces. The transports map them onto status codes.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrDuplicate indicates a conflict due to duplicate data (e.g., unique constraint).
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state (e.g., optimistic locking failure).
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the client/caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
	// ErrInvalidEvent indicates an inbound event is malformed or misses an identifying field.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrAnomalousTransition tags a transition that was applied but looks suspicious.
	// It is never returned as the failure of a write.
	ErrAnomalousTransition = errors.New("anomalous transition")
	// ErrExternalDependency indicates a downstream system (marketplace, broker, mail relay) failed.
	ErrExternalDependency = errors.New("external dependency failure")
)

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConflictError checks if the error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsTimeoutError checks if the error is or wraps ErrTimeout.
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsInvalidEventError checks if the error is or wraps ErrInvalidEvent.
func IsInvalidEventError(err error) bool {
	return errors.Is(err, ErrInvalidEvent)
}

// IsExternalDependencyError checks if the error is or wraps ErrExternalDependency.
func IsExternalDependencyError(err error) bool {
	return errors.Is(err, ErrExternalDependency)
}

// IsClientError reports whether the error was caused by the caller's input
// rather than by the service or its dependencies.
func IsClientError(err error) bool {
	return IsInvalidEventError(err) || IsValidationError(err) || IsBadRequestError(err)
}
