package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(storage.NewMemoryStorage(), nil)
}

func TestRegisterClient_Defaults(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	client, err := s.RegisterClient(context.Background(), &models.ClientRegistration{
		ClientName:   "Demo",
		RedirectURIs: []string{"http://localhost:3000/callback"},
	})
	require.NoError(t, err)

	assert.Regexp(t, `^demo_[a-f0-9]{16}$`, client.ClientID)
	assert.Equal(t, []string{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken}, client.GrantTypes)
	assert.Equal(t, []string{models.ResponseTypeCode}, client.ResponseTypes)
	assert.Equal(t, models.AuthMethodNone, client.TokenEndpointAuthMethod)
	assert.Empty(t, client.ClientSecret)
	assert.False(t, client.CreatedAt.IsZero())

	stored, err := s.GetClient(context.Background(), client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.RedirectURIs, stored.RedirectURIs)
}

func TestRegisterClient_Deterministic(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	reg := &models.ClientRegistration{
		ClientName:   "Demo",
		RedirectURIs: []string{"https://a.example.com/cb", "https://b.example.com/cb"},
	}
	first, err := s.RegisterClient(ctx, reg)
	require.NoError(t, err)

	reordered := &models.ClientRegistration{
		ClientName:   "Demo",
		RedirectURIs: []string{"https://b.example.com/cb", "https://a.example.com/cb"},
	}
	second, err := s.RegisterClient(ctx, reordered)
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	different, err := s.RegisterClient(ctx, &models.ClientRegistration{
		ClientName:   "Demo",
		RedirectURIs: []string{"https://c.example.com/cb"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ClientID, different.ClientID)
}

func TestRegisterClient_ConfidentialGetsSecret(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	client, err := s.RegisterClient(context.Background(), &models.ClientRegistration{
		ClientName:              "Backend",
		RedirectURIs:            []string{"https://backend.example.com/cb"},
		TokenEndpointAuthMethod: models.AuthMethodClientSecretBasic,
	})
	require.NoError(t, err)

	assert.Len(t, client.ClientSecret, 43)
	assert.NoError(t, s.AuthenticateClient(client, client.ClientSecret))
	assert.ErrorIs(t, s.AuthenticateClient(client, "wrong"), ErrInvalidClientCredentials)
	assert.ErrorIs(t, s.AuthenticateClient(client, ""), ErrInvalidClientCredentials)
}

func TestAuthenticateClient_PublicAlwaysPasses(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	assert.NoError(t, s.AuthenticateClient(&models.Client{TokenEndpointAuthMethod: models.AuthMethodNone}, ""))
}

func TestRegisterClient_Validation(t *testing.T) {
	t.Parallel()

	tooMany := make([]string, MaxRedirectURICount+1)
	for i := range tooMany {
		tooMany[i] = "https://app.example.com/cb"
	}

	tests := []struct {
		name     string
		reg      *models.ClientRegistration
		wantCode string
	}{
		{"nil body", nil, ErrCodeInvalidClientMetadata},
		{"no redirect uris", &models.ClientRegistration{ClientName: "x"}, ErrCodeInvalidRedirectURI},
		{"relative redirect uri", &models.ClientRegistration{RedirectURIs: []string{"/callback"}}, ErrCodeInvalidRedirectURI},
		{"unparseable redirect uri", &models.ClientRegistration{RedirectURIs: []string{"http://[::1"}}, ErrCodeInvalidRedirectURI},
		{"too many redirect uris", &models.ClientRegistration{RedirectURIs: tooMany}, ErrCodeInvalidRedirectURI},
		{"long name", &models.ClientRegistration{ClientName: strings.Repeat("a", MaxClientNameLength+1), RedirectURIs: []string{"https://a.example.com"}}, ErrCodeInvalidClientMetadata},
		{"bad auth method", &models.ClientRegistration{RedirectURIs: []string{"https://a.example.com"}, TokenEndpointAuthMethod: "private_key_jwt"}, ErrCodeInvalidClientMetadata},
		{"bad grant type", &models.ClientRegistration{RedirectURIs: []string{"https://a.example.com"}, GrantTypes: []string{"implicit"}}, ErrCodeInvalidClientMetadata},
		{"bad response type", &models.ClientRegistration{RedirectURIs: []string{"https://a.example.com"}, ResponseTypes: []string{"token"}}, ErrCodeInvalidClientMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestService(t)

			_, err := s.RegisterClient(context.Background(), tt.reg)
			var regErr *Error
			require.True(t, errors.As(err, &regErr), "got %v", err)
			assert.Equal(t, tt.wantCode, regErr.Code)
		})
	}
}

func TestValidateRedirectURI(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	client, err := s.RegisterClient(ctx, &models.ClientRegistration{
		ClientName:   "Demo",
		RedirectURIs: []string{"http://localhost:3000/callback"},
	})
	require.NoError(t, err)

	tests := []struct {
		clientID string
		uri      string
		want     bool
	}{
		{client.ClientID, "http://localhost:3000/callback", true},
		{client.ClientID, "http://localhost:3000/callback/", false},
		{client.ClientID, "http://localhost:3000/callback?x=1", false},
		{client.ClientID, "HTTP://localhost:3000/callback", false},
		{"unknown_0123456789abcdef", "http://localhost:3000/callback", false},
	}
	for _, tt := range tests {
		ok, err := s.ValidateRedirectURI(ctx, tt.clientID, tt.uri)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.uri)
	}
}

func TestFindClient(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	first, err := s.RegisterClient(ctx, &models.ClientRegistration{ClientName: "Shared", RedirectURIs: []string{"https://one.example.com"}})
	require.NoError(t, err)
	_, err = s.RegisterClient(ctx, &models.ClientRegistration{ClientName: "Shared", RedirectURIs: []string{"https://two.example.com"}})
	require.NoError(t, err)

	found, err := s.FindClient(ctx, "Shared")
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, found.ClientID)

	_, err = s.FindClient(ctx, "shared")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadStaticClients(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`clients:
  - client_name: Demo
    redirect_uris:
      - http://localhost:3000/callback
  - client_name: Backend
    redirect_uris: [https://backend.example.com/cb]
    token_endpoint_auth_method: client_secret_post
    client_secret: static-secret
`), 0600))

	clients, err := LoadStaticClients(path)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "Demo", clients[0].ClientName)
	assert.Equal(t, "static-secret", clients[1].ClientSecret)

	s := newTestService(t)
	registered, err := s.RegisterStatic(context.Background(), clients)
	require.NoError(t, err)
	require.Len(t, registered, 2)
	assert.Regexp(t, `^demo_[a-f0-9]{16}$`, registered[0].ClientID)
	assert.Equal(t, "static-secret", registered[1].ClientSecret)
}

func TestLoadStaticClients_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadStaticClients(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clients: [:"), 0600))
	_, err = LoadStaticClients(path)
	assert.Error(t, err)
}
