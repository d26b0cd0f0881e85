package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := NewProcessError("failed to start headless instance", cause).
		WithContext("port", "4827").
		WithContext("backend", "remote")

	msg := err.Error()
	assert.Contains(t, msg, "failed to start headless instance")
	assert.Contains(t, msg, "backend=remote")
	assert.Contains(t, msg, "port=4827")
	assert.Contains(t, msg, "underlying failure")
}

func TestErrorContextOrderingIsStable(t *testing.T) {
	err := NewValidationError("bad options", nil).
		WithContext("b", "2").
		WithContext("a", "1")

	assert.Equal(t, "bad options (a=1, b=2)", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewIOError("read failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestCategoryPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"validation", NewValidationError("v", nil), IsValidationError},
		{"not_found", NewNotFoundError("n", nil), IsNotFoundError},
		{"conflict", NewConflictError("c", nil), IsConflictError},
		{"internal", NewInternalError("i", nil), IsInternalError},
		{"io", NewIOError("io", nil), IsIOError},
		{"process", NewProcessError("p", nil), IsProcessError},
		{"network", NewNetworkError("net", nil), IsNetworkError},
		{"timeout", NewTimeoutError("t", nil), IsTimeoutError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.predicate(tt.err))
			assert.False(t, tt.predicate(fmt.Errorf("plain error")))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewNotFoundError("missing install", nil))
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsConflictError(err))
}
