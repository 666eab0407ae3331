package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a failure for retry and fallback policy decisions.
type ErrorCode string

const (
	ErrConfig               ErrorCode = "CONFIG"                // missing/invalid setting, never retried
	ErrConnectivity         ErrorCode = "CONNECTIVITY"          // handshake, timeout, refused connection
	ErrTool                 ErrorCode = "TOOL"                  // tool reported a logical error
	ErrTransient            ErrorCode = "TRANSIENT"             // rate limit or server 5xx, retryable
	ErrUnsupportedParameter ErrorCode = "UNSUPPORTED_PARAMETER" // 400-class shape incompatibility
	ErrContentPolicy        ErrorCode = "CONTENT_POLICY"        // model refusal or content filter, always fatal
	ErrCancelled            ErrorCode = "CANCELLED"             // user abort, a control outcome, not a failure
	ErrResourceLimit        ErrorCode = "RESOURCE_LIMIT"        // oversized payload, fails only the affected item
	ErrInternal             ErrorCode = "INTERNAL"
)

// Launcher-specific codes surfaced through ConnectionState.
const (
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"
	ErrPortInUse      ErrorCode = "PORT_IN_USE"
	ErrStartupTimeout ErrorCode = "STARTUP_TIMEOUT"
)

// ErrNotFound is used by lookups against local storage.
const ErrNotFound ErrorCode = "NOT_FOUND"

// Error is a structured error with code, remediation hint, and detail payload.
type Error struct {
	Code        ErrorCode
	Message     string
	Remediation string
	Details     map[string]any
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConfig creates a configuration error with a remediation pointer.
func NewConfig(msg, remediation string) *Error {
	return &Error{Code: ErrConfig, Message: msg, Remediation: remediation}
}

// NewConnectivity creates a connectivity error wrapping the transport failure.
func NewConnectivity(msg string, cause error) *Error {
	return &Error{Code: ErrConnectivity, Message: msg, Cause: cause}
}

// NewTool creates an error for a tool-reported logical failure.
func NewTool(tool, msg, remediation string) *Error {
	return &Error{
		Code:        ErrTool,
		Message:     msg,
		Remediation: remediation,
		Details:     map[string]any{"tool": tool},
	}
}

// NewTransient creates a retryable service error (rate limit, 5xx).
func NewTransient(msg string, status int, cause error) *Error {
	return &Error{
		Code:    ErrTransient,
		Message: msg,
		Details: map[string]any{"status": status},
		Cause:   cause,
	}
}

// NewUnsupportedParameter creates a 400-class shape-incompatibility error.
// It drives the variant cascade and is not user-visible unless every variant fails.
func NewUnsupportedParameter(msg string, status int) *Error {
	return &Error{
		Code:    ErrUnsupportedParameter,
		Message: msg,
		Details: map[string]any{"status": status},
	}
}

// NewContentPolicy creates a terminal refusal/content-filter error.
func NewContentPolicy(msg string) *Error {
	return &Error{Code: ErrContentPolicy, Message: msg}
}

// NewCancelled marks an operation as aborted by the user.
func NewCancelled(op string) *Error {
	return &Error{Code: ErrCancelled, Message: fmt.Sprintf("%s aborted", op)}
}

// NewResourceLimit creates an error for an individual oversized payload.
func NewResourceLimit(msg string, limit, actual int64) *Error {
	return &Error{
		Code:    ErrResourceLimit,
		Message: msg,
		Details: map[string]any{"limit_bytes": limit, "actual_bytes": actual},
	}
}

// NewNotFound creates a lookup failure for the given id.
func NewNotFound(id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("no record with id %q", id),
		Details: map[string]any{"id": id},
	}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: ErrInternal, Message: msg, Cause: err}
}

// Is checks whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the code of err, or ErrInternal for untyped errors.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// Cancelled reports whether err is a cancellation outcome, including raw
// context cancellation surfacing from a downstream call.
func Cancelled(err error) bool {
	return Is(err, ErrCancelled) || stderrors.Is(err, context.Canceled)
}

// Retryable reports whether err may be retried with backoff.
// Cancellation is never retryable, regardless of what it wraps.
func Retryable(err error) bool {
	if Cancelled(err) {
		return false
	}
	return Is(err, ErrTransient)
}
