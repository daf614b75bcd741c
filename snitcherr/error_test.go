package snitcherr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op code message",
			err:  New("prune", CodeEnvironmentLocked, "environment 1-a is locked"),
			want: "prune [ENVIRONMENT_LOCKED]: environment 1-a is locked",
		},
		{
			name: "no op",
			err:  New("", CodeInvalidLabel, "unknown label"),
			want: "[INVALID_LABEL]: unknown label",
		},
		{
			name: "with cause",
			err:  New("terminate", CodeEnvironmentNotFound, "missing").WithCause(context.Canceled),
			want: "terminate [ENVIRONMENT_NOT_FOUND]: missing: context canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsMatchesSentinelByCode(t *testing.T) {
	err := EnvironmentLocked("prune", "123", "prod")
	wrapped := fmt.Errorf("remove environment: %w", err)

	assert.True(t, errors.Is(wrapped, ErrEnvironmentLocked))
	assert.False(t, errors.Is(wrapped, ErrEnvironmentNotFound))
	assert.Equal(t, CodeEnvironmentLocked, CodeOf(wrapped))
	assert.Equal(t, "123", err.Details["account_number"])
}

func TestError_UnwrapCause(t *testing.T) {
	err := New("sync", CodeRunInvalidStatus, "bad").WithCause(context.DeadlineExceeded)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var se *Error
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &se))
	assert.Equal(t, "sync", se.Op)
}

func TestWithDetailsMerges(t *testing.T) {
	err := InvalidProperty("query", "Host", "nope").WithDetails(map[string]any{"extra": 1})
	assert.Equal(t, "Host", err.Details["label"])
	assert.Equal(t, "nope", err.Details["property"])
	assert.Equal(t, 1, err.Details["extra"])
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err   error
		class Class
		skip  bool
		retry bool
	}{
		{ErrRunAlreadySynced, ClassRun, true, false},
		{ErrRunContainsOldData, ClassRun, true, false},
		{ErrRunInvalidStatus, ClassRun, true, false},
		{ErrEnvironmentLocked, ClassLock, false, true},
		{ErrEnvironmentNotFound, ClassNotFound, false, false},
		{InvalidLabel("q", "X"), ClassValidation, false, false},
		{InvalidOperator("q", "~~"), ClassValidation, false, false},
		{errors.New("plain"), ClassUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.class, ClassOf(CodeOf(tt.err)))
			assert.Equal(t, tt.skip, IsSkip(tt.err))
			assert.Equal(t, tt.retry, IsRetryable(tt.err))
		})
	}
}
