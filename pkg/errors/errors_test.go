package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrUnauthorized,
		ErrServiceUnavail, ErrBadGateway, ErrForbidden,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("redis: connection refused")
	withInner := &AppError{Code: "PROFILE_PENDING", Message: "profile not saved", Err: inner}
	assert.Contains(t, withInner.Error(), "PROFILE_PENDING")
	assert.Contains(t, withInner.Error(), "connection refused")

	bare := &AppError{Code: "NOT_FOUND", Message: "profile not found"}
	assert.Equal(t, "NOT_FOUND: profile not found", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		status   int
		code     string
		sentinel error
	}{
		{"not found", NotFound("profile", "u-1"), http.StatusNotFound, "NOT_FOUND", ErrNotFound},
		{"already exists", AlreadyExists("IDENTITY_ALREADY_EXISTS", "sign in instead"), http.StatusConflict, "IDENTITY_ALREADY_EXISTS", ErrAlreadyExists},
		{"invalid input", InvalidInput("email is required"), http.StatusBadRequest, "INVALID_INPUT", ErrInvalidInput},
		{"unprocessable", Unprocessable("WEAK_CREDENTIAL", "too weak"), http.StatusUnprocessableEntity, "WEAK_CREDENTIAL", ErrInvalidInput},
		{"unauthorized", Unauthorized("bad token"), http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized},
		{"forbidden", Forbidden("not yours"), http.StatusForbidden, "FORBIDDEN", ErrForbidden},
		{"bad gateway", BadGateway("identity provider failed", errors.New("boom")), http.StatusBadGateway, "UPSTREAM_ERROR", ErrBadGateway},
		{"unavailable", ServiceUnavailable("PROFILE_PENDING", "retry", errors.New("boom")), http.StatusServiceUnavailable, "PROFILE_PENDING", ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	assert.Equal(t, "profile with id u-1 not found", NotFound("profile", "u-1").Message)
	assert.Equal(t, "account not found", NotFound("account", "").Message)
}

func TestBadGateway_PreservesCause(t *testing.T) {
	cause := errors.New("circuit breaker is open")
	err := BadGateway("identity provider failed", cause)
	assert.True(t, errors.Is(err, cause))
}
