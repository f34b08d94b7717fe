package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/storage"
	"github.com/andyleap/mcpauth/internal/storage/storagetest"
)

func TestFilesystemClientStore(t *testing.T) {
	storagetest.RunClientStoreTests(t, func(t *testing.T) storage.ClientStore {
		s, err := storage.NewFilesystemClientStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFilesystemClientStore_RejectsPathTraversal(t *testing.T) {
	s, err := storage.NewFilesystemClientStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../etc/passwd", "..", "a/b", `a\b`, ""} {
		_, err := s.GetClient(context.Background(), id)
		assert.ErrorIs(t, err, storage.ErrNotFound, id)
	}
}
