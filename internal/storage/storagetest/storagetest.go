// Package storagetest is the behavioural test suite every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/storage"
)

// RunStorageTests exercises a full Storage. newStorage must return an empty store.
func RunStorageTests(t *testing.T, newStorage func(t *testing.T) storage.Storage) {
	t.Helper()

	RunClientStoreTests(t, func(t *testing.T) storage.ClientStore { return newStorage(t) })

	t.Run("AuthCode", func(t *testing.T) {
		t.Run("RoundTrip", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			want := testAuthCode("code-roundtrip", time.Now().Add(time.Minute))

			require.NoError(t, s.StoreAuthCode(ctx, want))
			got, err := s.GetAuthCode(ctx, want.Code)
			require.NoError(t, err)

			assert.Equal(t, want.Code, got.Code)
			assert.Equal(t, want.UserID, got.UserID)
			assert.Equal(t, want.ClientID, got.ClientID)
			assert.Equal(t, want.RedirectURI, got.RedirectURI)
			assert.Equal(t, want.CodeChallenge, got.CodeChallenge)
			assert.Equal(t, want.CodeChallengeMethod, got.CodeChallengeMethod)
			assert.Equal(t, want.Resource, got.Resource)
			assert.Equal(t, want.Scope, got.Scope)
			assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Millisecond)
			assert.Nil(t, got.UsedAt)
		})

		t.Run("Missing", func(t *testing.T) {
			s := newStorage(t)
			_, err := s.GetAuthCode(context.Background(), "nope")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})

		t.Run("ExpiredIsDeletedOnRead", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			code := testAuthCode("code-expired", time.Now().Add(-time.Second))

			require.NoError(t, s.StoreAuthCode(ctx, code))
			_, err := s.GetAuthCode(ctx, code.Code)
			assert.ErrorIs(t, err, storage.ErrNotFound)

			// The read removed it, so there is nothing left to redeem.
			assert.ErrorIs(t, s.RemoveAuthCode(ctx, code.Code), storage.ErrNotFound)
		})

		t.Run("OverwriteReplaces", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			code := testAuthCode("code-overwrite", time.Now().Add(time.Minute))
			require.NoError(t, s.StoreAuthCode(ctx, code))

			code.Scope = "replaced"
			require.NoError(t, s.StoreAuthCode(ctx, code))

			got, err := s.GetAuthCode(ctx, code.Code)
			require.NoError(t, err)
			assert.Equal(t, "replaced", got.Scope)
		})

		t.Run("RemoveIsSingleUse", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			code := testAuthCode("code-remove", time.Now().Add(time.Minute))
			require.NoError(t, s.StoreAuthCode(ctx, code))

			require.NoError(t, s.RemoveAuthCode(ctx, code.Code))
			assert.ErrorIs(t, s.RemoveAuthCode(ctx, code.Code), storage.ErrNotFound)
			_, err := s.GetAuthCode(ctx, code.Code)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})

		t.Run("ConcurrentRemoveHasOneWinner", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			code := testAuthCode("code-race", time.Now().Add(time.Minute))
			require.NoError(t, s.StoreAuthCode(ctx, code))

			var (
				wg       sync.WaitGroup
				winners  atomic.Int32
				notFound atomic.Int32
			)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.RemoveAuthCode(ctx, code.Code)
					switch {
					case err == nil:
						winners.Add(1)
					case errors.Is(err, storage.ErrNotFound):
						notFound.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
			assert.Equal(t, int32(7), notFound.Load())
		})
	})

	t.Run("OAuthSession", func(t *testing.T) {
		t.Run("RoundTrip", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			want := testSession("session-roundtrip", time.Now().Add(time.Minute))

			require.NoError(t, s.StoreOAuthSession(ctx, want))
			got, err := s.GetOAuthSession(ctx, want.SessionID)
			require.NoError(t, err)

			assert.Equal(t, want.SessionID, got.SessionID)
			assert.Equal(t, want.State, got.State)
			assert.Equal(t, want.ClientID, got.ClientID)
			assert.Equal(t, want.RedirectURI, got.RedirectURI)
			assert.Equal(t, want.CodeChallenge, got.CodeChallenge)
			assert.Equal(t, want.CodeChallengeMethod, got.CodeChallengeMethod)
			assert.Equal(t, want.OAuthState, got.OAuthState)
			assert.Equal(t, want.Resource, got.Resource)
			assert.Equal(t, want.Scope, got.Scope)
			assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Millisecond)
		})

		t.Run("OptionalFieldsStayEmpty", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			sess := &models.OAuthSession{
				SessionID:   "session-minimal",
				State:       "state",
				ClientID:    "client",
				RedirectURI: "https://app.example.com/cb",
				ExpiresAt:   time.Now().Add(time.Minute),
			}
			require.NoError(t, s.StoreOAuthSession(ctx, sess))

			got, err := s.GetOAuthSession(ctx, sess.SessionID)
			require.NoError(t, err)
			assert.Empty(t, got.CodeChallenge)
			assert.Empty(t, got.OAuthState)
			assert.Empty(t, got.Resource)
			assert.Empty(t, got.Scope)
		})

		t.Run("ExpiredIsDeletedOnRead", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			sess := testSession("session-expired", time.Now().Add(-time.Second))

			require.NoError(t, s.StoreOAuthSession(ctx, sess))
			_, err := s.GetOAuthSession(ctx, sess.SessionID)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			assert.ErrorIs(t, s.RemoveOAuthSession(ctx, sess.SessionID), storage.ErrNotFound)
		})

		t.Run("Remove", func(t *testing.T) {
			s := newStorage(t)
			ctx := context.Background()
			sess := testSession("session-remove", time.Now().Add(time.Minute))
			require.NoError(t, s.StoreOAuthSession(ctx, sess))

			require.NoError(t, s.RemoveOAuthSession(ctx, sess.SessionID))
			_, err := s.GetOAuthSession(ctx, sess.SessionID)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			assert.ErrorIs(t, s.RemoveOAuthSession(ctx, sess.SessionID), storage.ErrNotFound)
		})
	})
}

// RunClientStoreTests exercises the client half of the contract on its own,
// for backends that only store clients.
func RunClientStoreTests(t *testing.T, newStore func(t *testing.T) storage.ClientStore) {
	t.Helper()

	t.Run("Client", func(t *testing.T) {
		t.Run("RoundTrip", func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			want := testClient(t, s, "Round Trip", time.Now())
			want.ClientSecret = "s3cr3t"
			want.TokenEndpointAuthMethod = models.AuthMethodClientSecretPost

			require.NoError(t, s.StoreClient(ctx, want))
			got, err := s.GetClient(ctx, want.ClientID)
			require.NoError(t, err)

			assert.Equal(t, want.ClientID, got.ClientID)
			assert.Equal(t, want.ClientSecret, got.ClientSecret)
			assert.Equal(t, want.ClientName, got.ClientName)
			assert.Equal(t, want.RedirectURIs, got.RedirectURIs)
			assert.Equal(t, want.GrantTypes, got.GrantTypes)
			assert.Equal(t, want.ResponseTypes, got.ResponseTypes)
			assert.Equal(t, want.TokenEndpointAuthMethod, got.TokenEndpointAuthMethod)
			assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
		})

		t.Run("Missing", func(t *testing.T) {
			s := newStore(t)
			_, err := s.GetClient(context.Background(), "missing_0123456789abcdef")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})

		t.Run("OverwriteReplaces", func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			c := testClient(t, s, "Overwrite", time.Now())
			require.NoError(t, s.StoreClient(ctx, c))

			c.RedirectURIs = []string{"https://other.example.com/cb"}
			require.NoError(t, s.StoreClient(ctx, c))

			got, err := s.GetClient(ctx, c.ClientID)
			require.NoError(t, err)
			assert.Equal(t, []string{"https://other.example.com/cb"}, got.RedirectURIs)
		})

		t.Run("FindReturnsFirstRegistration", func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			first := testClient(t, s, "Shared Name", time.Now().Add(-time.Minute))
			require.NoError(t, s.StoreClient(ctx, first))

			second := testClient(t, s, "Shared Name", time.Now())
			second.RedirectURIs = []string{"https://second.example.com/cb"}
			second.ClientID, _ = s.GenerateClientID(second)
			require.NotEqual(t, first.ClientID, second.ClientID)
			require.NoError(t, s.StoreClient(ctx, second))

			got, err := s.FindClient(ctx, "Shared Name")
			require.NoError(t, err)
			assert.Equal(t, first.ClientID, got.ClientID)
		})

		t.Run("FindIsExact", func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			require.NoError(t, s.StoreClient(ctx, testClient(t, s, "Exact", time.Now())))

			_, err := s.FindClient(ctx, "exact")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			_, err = s.FindClient(ctx, "Nobody")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})

		t.Run("GeneratedIDShape", func(t *testing.T) {
			s := newStore(t)
			c := testClient(t, s, "My Demo App!", time.Now())
			assert.Regexp(t, `^mydemoapp_[a-f0-9]{16}$`, c.ClientID)
		})
	})
}

func testClient(t *testing.T, s storage.ClientStore, name string, created time.Time) *models.Client {
	t.Helper()
	c := &models.Client{
		ClientName:              name,
		RedirectURIs:            []string{"https://app.example.com/cb"},
		GrantTypes:              []string{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken},
		ResponseTypes:           []string{models.ResponseTypeCode},
		TokenEndpointAuthMethod: models.AuthMethodNone,
		CreatedAt:               created,
		UpdatedAt:               created,
	}
	id, err := s.GenerateClientID(c)
	require.NoError(t, err)
	c.ClientID = id
	return c
}

func testAuthCode(code string, expiresAt time.Time) *models.AuthorizationCode {
	return &models.AuthorizationCode{
		Code:                code,
		UserID:              "user-1",
		ClientID:            "demo_0123456789abcdef",
		RedirectURI:         "https://app.example.com/cb",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: models.CodeChallengeMethodS256,
		Resource:            "https://mcp.example.com",
		Scope:               "tools:read",
		ExpiresAt:           expiresAt,
	}
}

func testSession(id string, expiresAt time.Time) *models.OAuthSession {
	return &models.OAuthSession{
		SessionID:           id,
		State:               "provider-state-" + id,
		ClientID:            "demo_0123456789abcdef",
		RedirectURI:         "https://app.example.com/cb",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: models.CodeChallengeMethodS256,
		OAuthState:          "client-state",
		Resource:            "https://mcp.example.com",
		Scope:               "tools:read",
		ExpiresAt:           expiresAt,
	}
}
