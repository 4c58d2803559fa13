package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"auth", fmt.Errorf("parse token: %w", ErrUnauthorized), http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"not found", fmt.Errorf("conversation abc: %w", ErrNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("content: %w", ErrValidation), http.StatusBadRequest},
		{"persistence", fmt.Errorf("%w: %w", ErrPersistence, context.DeadlineExceeded), http.StatusInternalServerError},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestPublic(t *testing.T) {
	req := require.New(t)
	req.Equal("internal error", Public(fmt.Errorf("%w: dial tcp", ErrPersistence)))
	req.Equal("content: validation failed", Public(fmt.Errorf("content: %w", ErrValidation)))
}
