package errors

import (
	"errors"
	"fmt"
	"net/http"

	"peerlink/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeConflict              ErrorCode = "CONFLICT"
	ErrCodeInvalidState          ErrorCode = "INVALID_STATE"
	ErrCodeNegotiationInProgress ErrorCode = "NEGOTIATION_IN_PROGRESS"
	ErrCodeMediaUnavailable      ErrorCode = "MEDIA_UNAVAILABLE"
	ErrCodeRateLimit             ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// FromDomainError maps a connection manager error onto an AppError. The
// most specific sentinel wins: a missing connection is reported as not found
// even though it is also an invalid state for the requested operation.
func FromDomainError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrConnectionNotFound):
		return WrapError(err, ErrCodeNotFound, "connection not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrStreamNotFound):
		return WrapError(err, ErrCodeNotFound, "stream not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDataChannelNotFound):
		return WrapError(err, ErrCodeNotFound, "data channel not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateConnection):
		return NewConflictError("connection already exists").withCause(err)
	case errors.Is(err, domain.ErrNegotiationInProgress):
		return WrapError(err, ErrCodeNegotiationInProgress, "negotiation already in progress", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidState):
		return WrapError(err, ErrCodeInvalidState, "operation not allowed in current state", http.StatusConflict)
	case errors.Is(err, domain.ErrMediaAcquisition):
		return WrapError(err, ErrCodeMediaUnavailable, "media could not be acquired", http.StatusServiceUnavailable)
	default:
		return NewInternalError("internal server error").withCause(err)
	}
}

func (e *AppError) withCause(err error) *AppError {
	e.Cause = err
	return e
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
