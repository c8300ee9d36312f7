package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExisting(t *testing.T) {
	t.Run("clean directory", func(t *testing.T) {
		assert.NoError(t, CheckExisting(t.TempDir()))
	})

	t.Run("one existing file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lockstep.yml"), []byte("x"), 0644))

		err := CheckExisting(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Found existing: lockstep.yml")
		assert.Contains(t, err.Error(), "lockstep init --force")
	})

	t.Run("several existing files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "content"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lockstep.yml"), []byte("x"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "content", "escape.yml"), []byte("x"), 0644))

		err := CheckExisting(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Found existing files:")
		assert.Contains(t, err.Error(), "  - lockstep.yml")
		assert.Contains(t, err.Error(), "  - "+filepath.Join("content", "escape.yml"))
	})
}
