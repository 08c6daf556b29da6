package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"peerlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())

	cause := errors.New("original error")
	wrapped := WrapError(cause, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "original error")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("connection")
	assert.Same(t, appErr, GetAppError(appErr))
	assert.Same(t, appErr, GetAppError(fmt.Errorf("handler: %w", appErr)))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))

	assert.True(t, IsAppError(appErr))
	assert.False(t, IsAppError(errors.New("plain")))
}

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{
			name:   "missing connection beats invalid state",
			err:    fmt.Errorf("%w: %w: peer-1", domain.ErrInvalidState, domain.ErrConnectionNotFound),
			code:   ErrCodeNotFound,
			status: http.StatusNotFound,
		},
		{
			name:   "duplicate",
			err:    fmt.Errorf("%w: peer-1", domain.ErrDuplicateConnection),
			code:   ErrCodeConflict,
			status: http.StatusConflict,
		},
		{
			name:   "negotiation busy",
			err:    fmt.Errorf("%w: peer-1", domain.ErrNegotiationInProgress),
			code:   ErrCodeNegotiationInProgress,
			status: http.StatusConflict,
		},
		{
			name:   "invalid state",
			err:    fmt.Errorf("%w: peer-1 is closed", domain.ErrInvalidState),
			code:   ErrCodeInvalidState,
			status: http.StatusConflict,
		},
		{
			name:   "media",
			err:    fmt.Errorf("%w: stream local: denied", domain.ErrMediaAcquisition),
			code:   ErrCodeMediaUnavailable,
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "stream",
			err:    domain.ErrStreamNotFound,
			code:   ErrCodeNotFound,
			status: http.StatusNotFound,
		},
		{
			name:   "unknown",
			err:    errors.New("socket closed"),
			code:   ErrCodeInternal,
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomainError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromDomainError(nil))
	rate := NewRateLimitError()
	assert.Same(t, rate, FromDomainError(rate))
}
