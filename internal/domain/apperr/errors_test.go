package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := NotFound("approve_task", "task %d not found", 7)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestError_ConflictSatisfiesInvalidStatus(t *testing.T) {
	err := Conflict("create_delegation", "overlapping delegation")

	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(err, ErrInvalidStatus))
	assert.False(t, errors.Is(ErrInvalidStatus, ErrConflict))
}

func TestWrap(t *testing.T) {
	t.Run("wraps plain error", func(t *testing.T) {
		base := errors.New("disk full")
		err := Wrap(KindDBError, "insert", base)

		assert.True(t, errors.Is(err, ErrDB))
		assert.True(t, errors.Is(err, base))
		assert.Equal(t, "insert: db_error: disk full", err.Error())
	})

	t.Run("keeps existing kind", func(t *testing.T) {
		base := Validation("create", "empty approvers")
		err := Wrap(KindDBError, "uow", base)

		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Wrap(KindDBError, "noop", nil))
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindDBError},
		{"lock timeout", LockTimeout("acquire", "waited too long"), KindLockTimeout},
		{"permission", PermissionDenied("approve", "nope"), KindPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(LockTimeout("acquire", "x")))
	assert.True(t, Retryable(errors.New("database is locked")))
	assert.False(t, Retryable(Validation("create", "x")))
	assert.False(t, Retryable(InvalidStatus("approve", "x")))
	assert.False(t, Retryable(Conflict("delegate", "x")))
}
