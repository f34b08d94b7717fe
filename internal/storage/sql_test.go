package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/storage"
	"github.com/andyleap/mcpauth/internal/storage/storagetest"
)

func openSQLite(t *testing.T, canonical bool) *storage.SQLStorage {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=busy_timeout(5000)"
	s, err := storage.OpenSQL(context.Background(), storage.SQLConfig{
		Dialect:            storage.DialectSQLite,
		DSN:                dsn,
		CanonicalClientIDs: canonical,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStorage_SQLite(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		return openSQLite(t, false)
	})
}

func TestSQLStorage_SaltedClientIDs(t *testing.T) {
	s := openSQLite(t, false)
	c := &models.Client{ClientName: "demo", RedirectURIs: []string{"https://app.example.com/cb"}}

	a, err := s.GenerateClientID(c)
	require.NoError(t, err)
	b, err := s.GenerateClientID(c)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^demo_[a-f0-9]{16}$`, a)
}

func TestSQLStorage_CanonicalClientIDs(t *testing.T) {
	s := openSQLite(t, true)
	c := &models.Client{ClientName: "demo", RedirectURIs: []string{"https://app.example.com/cb"}}

	a, err := s.GenerateClientID(c)
	require.NoError(t, err)
	b, err := s.GenerateClientID(c)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSQLStorage_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db")
	cfg := storage.SQLConfig{Dialect: storage.DialectSQLite, DSN: dsn}

	s, err := storage.OpenSQL(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.StoreClient(ctx, &models.Client{
		ClientID:     "demo_0123456789abcdef",
		ClientName:   "demo",
		RedirectURIs: []string{"https://app.example.com/cb"},
	}))
	require.NoError(t, s.Close())

	// Migrations are already applied; opening again must be a no-op.
	s, err = storage.OpenSQL(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetClient(ctx, "demo_0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.ClientName)
	assert.Empty(t, got.GrantTypes)
}

func TestOpenSQL_UnknownDialect(t *testing.T) {
	_, err := storage.OpenSQL(context.Background(), storage.SQLConfig{Dialect: "oracle", DSN: "x"})
	assert.Error(t, err)
}
