package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"validation", NewValidationError("bad", nil), ErrorTypeValidation, http.StatusBadRequest},
		{"decode", NewDecodeError("bad", nil), ErrorTypeDecode, http.StatusUnprocessableEntity},
		{"processing", NewProcessingError("bad", nil), ErrorTypeProcessing, http.StatusUnprocessableEntity},
		{"save", NewSaveError("bad", nil), ErrorTypeSave, http.StatusInternalServerError},
		{"permission", NewPermissionError("bad", nil), ErrorTypePermission, http.StatusForbidden},
		{"not found", NewNotFoundError("bad", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("bad", nil), ErrorTypeConflict, http.StatusConflict},
		{"network", NewNetworkError("bad", nil), ErrorTypeNetwork, http.StatusBadGateway},
		{"timeout", NewTimeoutError("bad", nil), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"internal", NewInternalError("bad", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.True(t, IsType(tt.err, tt.typ))
		})
	}
}

func TestAppError_WrapsCause(t *testing.T) {
	err := NewTimeoutError("fetch timed out", context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "caused by")
}

func TestGetStatusCode_WrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("acquire: %w", NewPermissionError("source disabled", nil))

	assert.Equal(t, http.StatusForbidden, GetStatusCode(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypePermission))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(fmt.Errorf("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, ProcessingMessage, UserMessage(NewDecodeError("cannot decode", nil)))
	assert.Equal(t, ProcessingMessage, UserMessage(NewSaveError("disk full", nil)))
	assert.Equal(t, ProcessingMessage, UserMessage(fmt.Errorf("unknown")))
	assert.Equal(t, "source disabled", UserMessage(NewPermissionError("source disabled", nil)))
}
