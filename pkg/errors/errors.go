// Package errors provides the structured error taxonomy shared by the
// namespace resolver, storage backends, control plane and request
// dispatcher.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure. The request dispatcher is the single
// place that translates codes into POSIX errnos.
type ErrorCode string

const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodePathConflict  ErrorCode = "PATH_CONFLICT"
	ErrCodeReadOnly      ErrorCode = "READ_ONLY"
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeBadHandle     ErrorCode = "BAD_HANDLE"
	ErrCodeBackendIO     ErrorCode = "BACKEND_IO"
)

// FSError represents a structured filesystem error with a code, an
// optional path and an optional underlying cause.
type FSError struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *FSError) Error() string {
	switch {
	case e.Path != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Message, e.Path, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Path)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *FSError) Unwrap() error {
	return e.Cause
}

// Is matches two FSErrors by code, so sentinel-style comparisons with
// errors.Is work across wrapping.
func (e *FSError) Is(target error) bool {
	var fsErr *FSError
	if errors.As(target, &fsErr) {
		return e.Code == fsErr.Code
	}
	return false
}

// WithPath returns a copy of the error annotated with a path.
func (e *FSError) WithPath(path string) *FSError {
	clone := *e
	clone.Path = path
	return &clone
}

// WithCause returns a copy of the error wrapping an underlying cause.
func (e *FSError) WithCause(cause error) *FSError {
	clone := *e
	clone.Cause = cause
	return &clone
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *FSError {
	return &FSError{Code: code, Message: message}
}

// NotFound reports that a path does not exist in the namespace or in a
// backend.
func NotFound(path string) *FSError {
	return &FSError{Code: ErrCodeNotFound, Message: "not found", Path: path}
}

// PathConflict reports that a claim path is already held by a
// different container identity.
func PathConflict(path string) *FSError {
	return &FSError{Code: ErrCodePathConflict, Message: "path already claimed by another container", Path: path}
}

// ReadOnly reports a mutating operation against a read-only backend.
func ReadOnly(path string) *FSError {
	return &FSError{Code: ErrCodeReadOnly, Message: "backend is read-only", Path: path}
}

// Unsupported reports an operation the backend variant does not
// implement.
func Unsupported(op string) *FSError {
	return &FSError{Code: ErrCodeUnsupported, Message: "operation not supported: " + op}
}

// InvalidConfig reports a malformed descriptor or an illegal backend
// composition such as a delegate cycle.
func InvalidConfig(message string) *FSError {
	return &FSError{Code: ErrCodeInvalidConfig, Message: message}
}

// BadHandle reports an operation against an unknown open-handle id.
func BadHandle(id uint64) *FSError {
	return &FSError{Code: ErrCodeBadHandle, Message: fmt.Sprintf("unknown handle %d", id)}
}

// BackendIO wraps a lower-level I/O failure from a backend.
func BackendIO(path string, cause error) *FSError {
	return &FSError{Code: ErrCodeBackendIO, Message: "backend i/o failure", Path: path, Cause: cause}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Errors that carry no FSError in their chain report ErrCodeBackendIO.
func CodeOf(err error) ErrorCode {
	var fsErr *FSError
	if errors.As(err, &fsErr) {
		return fsErr.Code
	}
	return ErrCodeBackendIO
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}
