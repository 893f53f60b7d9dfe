package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE(t *testing.T) {
	t.Run("sets op kind and message", func(t *testing.T) {
		err := E(Op("lock.Acquire"), KindFatal, "lock directory missing")
		assert.Equal(t, "lock.Acquire: lock directory missing", err.Error())
		assert.Equal(t, KindFatal, KindOf(err))
	})

	t.Run("inherits kind from wrapped error", func(t *testing.T) {
		inner := E(Op("git.Push"), KindPermissionDenied, "protected branch")
		outer := E(Op("push.Run"), inner)
		assert.Equal(t, KindPermissionDenied, KindOf(outer))
		assert.Contains(t, outer.Error(), "push.Run")
	})

	t.Run("empty error falls back to kind name", func(t *testing.T) {
		err := E(KindUserAbort)
		assert.Equal(t, "user abort", err.Error())
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"lock held sentinel", fmt.Errorf("acquire: %w", ErrLockHeld), KindSkippable},
		{"declined sentinel", Wrap(ErrDeclined, "sync"), KindUserAbort},
		{"plain error", New("boom"), KindUnknown},
		{"typed", E(KindConflict, "x.txt"), KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(ErrDirtyWorktree, "checkout %s", "main")
	assert.True(t, Is(err, ErrDirtyWorktree))
	assert.Equal(t, "checkout main: working tree has uncommitted changes", err.Error())
}
