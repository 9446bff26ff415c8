package handlers

import (
	"fmt"

	"github.com/pkg/errors"
)

// RecoverableError is an error that is explicitly marked as recoverable. Deliveries that fail with a recoverable error
// are requeued.
type RecoverableError struct {
	message string
	cause   error
}

// Error returns the error message for a RecoverableError.
func (e RecoverableError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.cause)
}

// Unwrap returns the underlying error, if there is one.
func (e RecoverableError) Unwrap() error {
	return e.cause
}

// NewRecoverableError returns a new error that is marked as being recoverable.
func NewRecoverableError(formatString string, a ...interface{}) RecoverableError {
	return RecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// WrapRecoverable marks an existing error as recoverable.
func WrapRecoverable(cause error, message string) RecoverableError {
	return RecoverableError{message: message, cause: cause}
}

// UnrecoverableError is an error that we do not expect to be able to recover from. Deliveries that fail with an
// unrecoverable error are rejected without being requeued.
type UnrecoverableError struct {
	message string
	cause   error
}

// Error returns the error message for an UnrecoverableError.
func (e UnrecoverableError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.cause)
}

// Unwrap returns the underlying error, if there is one.
func (e UnrecoverableError) Unwrap() error {
	return e.cause
}

// NewUnrecoverableError returns a new error that is marked as being unrecoverable.
func NewUnrecoverableError(formatString string, a ...interface{}) UnrecoverableError {
	return UnrecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// WrapUnrecoverable marks an existing error as unrecoverable.
func WrapUnrecoverable(cause error, message string) UnrecoverableError {
	return UnrecoverableError{message: message, cause: cause}
}

// IsRecoverable returns true if the delivery that produced err should be retried. Errors that aren't explicitly
// marked as unrecoverable are treated as recoverable.
func IsRecoverable(err error) bool {
	var unrecoverable UnrecoverableError
	return !errors.As(err, &unrecoverable)
}
