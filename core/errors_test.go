package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("create: %w", NewError(KindBackendUnavailable, "native.create", errors.New("connection refused")))

	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrBackendError)
	assert.Equal(t, KindBackendUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_UnwrapReachesCause(t *testing.T) {
	err := NewError(KindBackendError, "send", context.DeadlineExceeded)

	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "invalid_input", ErrInvalidInput.Error())
	assert.Equal(t, "encode: invalid_input: expected non-empty array",
		Errorf(KindInvalidInput, "encode", "expected non-empty array").Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
