package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("asset a1: %w", ErrNotFound), http.StatusNotFound},
		{"credential not found", fmt.Errorf("su1: %w", ErrCredentialNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("action %q: %w", "reboot", ErrValidation), http.StatusBadRequest},
		{"throttled", ErrThrottled, http.StatusTooManyRequests},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"store write", fmt.Errorf("set: %w", ErrStoreWrite), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestIsNotFound_CollapsesBothKinds(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", ErrCredentialNotFound)))
	assert.False(t, IsNotFound(ErrValidation))
}
