// Package apperror defines the error taxonomy shared by the service and
// handler layers.
//
// Every failure a workflow can produce is an *AppError wrapping one of the
// sentinel errors below. Callers match on the sentinel with errors.Is and
// read the human-readable Message with errors.As:
//
//	var appErr *apperror.AppError
//	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrExpired) {
//	    // tell the user to sign up again
//	}
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrExpired      = errors.New("expired")
	ErrMismatch     = errors.New("mismatch")
	ErrPersistence  = errors.New("persistence failure")
	ErrExternal     = errors.New("external service failure")
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, logged but never shown
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(message string) *AppError {
	return &AppError{Err: ErrNotFound, Message: message}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(message string) *AppError {
	return &AppError{Err: ErrConflict, Message: message}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{Err: ErrForbidden, Message: message}
}

// Unauthorized means the caller could not be authenticated.
func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Message: message}
}

// Expired marks a time-bounded record that was presented after its deadline.
func Expired(message string) *AppError {
	return &AppError{Err: ErrExpired, Message: message}
}

// Mismatch marks a presented secret (password, verification token) that
// does not match the stored hash. State is never deleted on a mismatch.
func Mismatch(message string) *AppError {
	return &AppError{Err: ErrMismatch, Message: message}
}

// Persistence wraps a storage failure. The message is generic on purpose;
// the cause is kept for logging.
func Persistence(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: "something went wrong, please try again",
		Cause:   fmt.Errorf("%s: %w", op, cause),
	}
}

// External wraps a failure of a dependency outside this process (mail,
// OAuth provider, summarization API). The message names the dependency so
// the client can tell its input was fine.
func External(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrExternal,
		Message: fmt.Sprintf("%s is unavailable, please try again later", service),
		Cause:   cause,
	}
}
