package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, machine readable kind of an application error.
type ErrorCode string

// AppError represents an application error
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so errors.Is(err, &AppError{Code: ErrConflict}) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

const (
	ErrInvalidRange    ErrorCode = "invalid_range"
	ErrInvalidTimezone ErrorCode = "invalid_timezone"
	ErrValidation      ErrorCode = "validation"
	ErrNotFound        ErrorCode = "not_found"
	ErrUnauthorized    ErrorCode = "unauthorized"
	ErrForbidden       ErrorCode = "forbidden"
	ErrSlotUnavailable ErrorCode = "slot_unavailable"
	ErrConflict        ErrorCode = "conflict"
	ErrLockTimeout     ErrorCode = "lock_timeout"
	ErrCancelled       ErrorCode = "cancelled"
	ErrStaleState      ErrorCode = "stale_state"
	ErrInvalidState    ErrorCode = "invalid_state"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrInternal        ErrorCode = "internal"
)

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func InvalidRange(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidRange,
		Message: message,
	}
}

func InvalidTimezone(tz string, err error) *AppError {
	return &AppError{
		Code:    ErrInvalidTimezone,
		Message: fmt.Sprintf("invalid timezone %q", tz),
		Err:     err,
	}
}

func SlotUnavailable(message string) *AppError {
	return &AppError{
		Code:    ErrSlotUnavailable,
		Message: message,
	}
}

// Conflict carries the conflicting entities in Details.
func Conflict(message string, details interface{}) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Details: details,
	}
}

func LockTimeout(key string, err error) *AppError {
	return &AppError{
		Code:    ErrLockTimeout,
		Message: fmt.Sprintf("timed out waiting for lock on %s", key),
		Err:     err,
	}
}

// Cancelled reports that the caller's context ended before the work could start.
func Cancelled(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCancelled,
		Message: message,
		Err:     err,
	}
}

// StaleState reports a lost compare-and-swap. It never crosses the engine boundary.
func StaleState(resource string) *AppError {
	return &AppError{
		Code:    ErrStaleState,
		Message: fmt.Sprintf("%s changed concurrently", resource),
	}
}

func InvalidState(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Message: message,
	}
}

func RateLimited() *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Message: "rate limit exceeded",
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode reports whether err's chain contains an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
