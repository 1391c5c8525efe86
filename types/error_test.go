package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrExecutionFault, "handler failed").
		WithCause(root).
		WithHTTPStatus(500).
		WithNode("m1").
		WithModel("resnet")

	assert.Equal(t, ErrExecutionFault, GetErrorCode(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[EXECUTION_FAULT] handler failed: root", err.Error())
	assert.Equal(t, "m1", err.Node)
	assert.Equal(t, "resnet", err.Model)
}

func TestError_NoCause(t *testing.T) {
	t.Parallel()

	err := NewError(ErrTargetNotFound, "model missing")
	assert.Equal(t, "[TARGET_NOT_FOUND] model missing", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("node b: %w", NewError(ErrInterrupted, "cancelled"))

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrInterrupted, e.Code)
	assert.True(t, IsErrorCode(err, ErrInterrupted))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestIsInvocationError(t *testing.T) {
	t.Parallel()

	for _, code := range []ErrorCode{ErrTargetNotFound, ErrTargetVersionNotFound, ErrExecutionFault, ErrInterrupted} {
		assert.True(t, IsInvocationError(NewError(code, "x")), code)
	}
	assert.False(t, IsInvocationError(NewError(ErrGraphInvalid, "x")))
	assert.False(t, IsInvocationError(nil))
}
