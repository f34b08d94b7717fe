package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/storage"
	"github.com/andyleap/mcpauth/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		return storage.NewMemoryStorage()
	})
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	c := &models.Client{
		ClientID:     "demo_0123456789abcdef",
		ClientName:   "demo",
		RedirectURIs: []string{"https://app.example.com/cb"},
	}
	require.NoError(t, s.StoreClient(ctx, c))
	c.RedirectURIs[0] = "https://evil.example.com/cb"

	got, err := s.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	got.RedirectURIs[0] = "https://evil.example.com/cb"

	again, err := s.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com/cb"}, again.RedirectURIs)
}

func TestCompose_RoutesToSubStores(t *testing.T) {
	mem := storage.NewMemoryStorage()
	files, err := storage.NewFilesystemClientStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	s := storage.Compose(files, mem, mem)
	defer s.Close()

	client := &models.Client{ClientID: "demo_0123456789abcdef", ClientName: "demo"}
	require.NoError(t, s.StoreClient(ctx, client))
	_, err = files.GetClient(ctx, client.ClientID)
	assert.NoError(t, err)
	_, err = mem.GetClient(ctx, client.ClientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	code := &models.AuthorizationCode{Code: "c", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.StoreAuthCode(ctx, code))
	_, err = mem.GetAuthCode(ctx, "c")
	assert.NoError(t, err)
}
