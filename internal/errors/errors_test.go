package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")
	assert.Equal(t, "bad input", err.Error())
}

func TestAPIError_Render(t *testing.T) {
	err := New(http.StatusNotFound, "LICENSE_NOT_FOUND", "License not found")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/validate/abc", nil)

	require.NoError(t, err.Render(w, r))
}

func TestNewWithDetails(t *testing.T) {
	err := NewWithDetails(http.StatusConflict, "DUPLICATE_KEY", "exists", "ELV-1-2-3")
	assert.Equal(t, http.StatusConflict, err.StatusCode)
	assert.Equal(t, "DUPLICATE_KEY", err.ErrorCode)
	assert.Equal(t, "ELV-1-2-3", err.Details)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		code   string
	}{
		{ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE"},
		{ErrBadAdminKey, http.StatusUnauthorized, "BAD_ADMIN_KEY"},
		{ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{ErrDuplicateKey, http.StatusConflict, "DUPLICATE_KEY"},
		{ErrRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{ErrEmailFailure, http.StatusInternalServerError, "EMAIL_FAILURE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.StatusCode, tt.code)
		assert.Equal(t, tt.code, tt.err.ErrorCode)
	}
}

func TestErrValidation(t *testing.T) {
	err := ErrValidation("email", "invalid email format")
	require.IsType(t, ValidationError{}, err.Details)
	assert.Equal(t, "email", err.Details.(ValidationError).Field)
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("License")
	assert.Equal(t, "License not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
}
