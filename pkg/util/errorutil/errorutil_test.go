package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "validation passes through",
			err:        NewValidationError("title required", nil),
			wantCode:   CodeValidation,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "title required",
		},
		{
			name:       "wrapped not found is unwrapped",
			err:        fmt.Errorf("handler: %w", NewNotFound("ticket", nil)),
			wantCode:   CodeNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "ticket not found",
		},
		{
			name:       "unknown error becomes internal",
			err:        cause,
			wantCode:   CodeInternal,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDomainError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.HTTPStatus)
			assert.Equal(t, tt.wantMsg, got.Message)
		})
	}
}

func TestInternalErrorKeepsCause(t *testing.T) {
	cause := errors.New("db down")
	err := NewInternalError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error: db down", err.Error())
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(NewForbidden("nope"), CodeForbidden))
	assert.False(t, HasCode(NewForbidden("nope"), CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeForbidden))
	assert.Nil(t, MapError(nil))
}
