package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"drive-relay/internal/model"
)

func TestPathValidatorResolvePath(t *testing.T) {
	t.Parallel()

	validator, err := NewPathValidator(t.TempDir())
	require.NoError(t, err)

	t.Run("root aliases resolve to root", func(t *testing.T) {
		for _, p := range []string{"", "/", "root"} {
			resolved, resolveErr := validator.ResolvePath(p)
			require.NoError(t, resolveErr)
			require.Equal(t, validator.RootAbs(), resolved)
		}
	})

	t.Run("chat path resolves inside root", func(t *testing.T) {
		resolved, resolveErr := validator.ResolvePath("/Reports/q1.txt")
		require.NoError(t, resolveErr)
		require.Equal(t, filepath.Join(validator.RootAbs(), "Reports", "q1.txt"), resolved)
	})

	t.Run("backslashes are normalized", func(t *testing.T) {
		resolved, resolveErr := validator.ResolvePath(`Reports\q1.txt`)
		require.NoError(t, resolveErr)
		require.Equal(t, filepath.Join(validator.RootAbs(), "Reports", "q1.txt"), resolved)
	})

	t.Run("traversal is forbidden", func(t *testing.T) {
		_, resolveErr := validator.ResolvePath("/Reports/../../etc/passwd")
		require.True(t, errors.Is(resolveErr, model.ErrForbidden))
	})

	t.Run("control characters are invalid", func(t *testing.T) {
		_, resolveErr := validator.ResolvePath("Reports\nq1.txt")
		require.True(t, errors.Is(resolveErr, model.ErrInvalidInput))
	})

	t.Run("prefix sibling is outside root", func(t *testing.T) {
		require.False(t, isWithinRoot("/tmp/root", "/tmp/rootkit/file.txt"))
		require.True(t, isWithinRoot("/tmp/root", "/tmp/root/file.txt"))
	})
}

func TestNewPathValidatorRejectsEmptyRoot(t *testing.T) {
	t.Parallel()

	_, err := NewPathValidator(" ")
	require.Error(t, err)
}
