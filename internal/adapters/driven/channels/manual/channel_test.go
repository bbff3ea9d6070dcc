package manual

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

func TestChannel_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("stages uploads and emits events", func(t *testing.T) {
		uploadDir := t.TempDir()
		stagingDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "claim.pdf"), []byte("claim"), 0600))

		c := New(uploadDir, stagingDir)
		events, err := c.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, domain.ChannelManual, events[0].SourceChannel)
		assert.Equal(t, "claim.pdf", events[0].OriginalName)

		// Upload dir drained, content readable from staging.
		remaining, err := os.ReadDir(uploadDir)
		require.NoError(t, err)
		assert.Empty(t, remaining)

		rc, err := events[0].Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "claim", string(data))
	})

	t.Run("second poll finds nothing", func(t *testing.T) {
		uploadDir := t.TempDir()
		c := New(uploadDir, t.TempDir())
		require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "a.txt"), []byte("a"), 0600))

		_, err := c.Poll(ctx)
		require.NoError(t, err)
		events, err := c.Poll(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("same filename dropped twice stages both", func(t *testing.T) {
		uploadDir := t.TempDir()
		stagingDir := t.TempDir()
		c := New(uploadDir, stagingDir)

		require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "dup.txt"), []byte("first"), 0600))
		first, err := c.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, first, 1)

		require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "dup.txt"), []byte("second"), 0600))
		second, err := c.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, second, 1)

		staged, err := os.ReadDir(stagingDir)
		require.NoError(t, err)
		assert.Len(t, staged, 2)
	})

	t.Run("missing upload directory is not an error", func(t *testing.T) {
		c := New(filepath.Join(t.TempDir(), "missing"), t.TempDir())
		events, err := c.Poll(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestChannel_Check(t *testing.T) {
	base := t.TempDir()
	c := New(filepath.Join(base, "uploads"), filepath.Join(base, "staging"))
	require.NoError(t, c.Check(context.Background()))

	// Check creates both directories.
	assert.DirExists(t, filepath.Join(base, "uploads"))
	assert.DirExists(t, filepath.Join(base, "staging"))
}
