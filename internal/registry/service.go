// Package registry implements dynamic client registration (RFC 7591) and the
// client lookups the authorization flow depends on.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/storage"
)

// RFC 7591 section 3.2.2 error codes.
const (
	ErrCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrCodeInvalidClientMetadata = "invalid_client_metadata"
)

const (
	MaxRedirectURICount = 10
	MaxClientNameLength = 256
)

// ErrInvalidClientCredentials is returned by AuthenticateClient.
var ErrInvalidClientCredentials = errors.New("invalid client credentials")

// Error is a rejected registration request.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

var (
	defaultGrantTypes    = []string{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken}
	defaultResponseTypes = []string{models.ResponseTypeCode}

	allowedAuthMethods = []string{
		models.AuthMethodClientSecretBasic,
		models.AuthMethodClientSecretPost,
		models.AuthMethodNone,
	}
	allowedGrantTypes    = []string{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken}
	allowedResponseTypes = []string{models.ResponseTypeCode}
)

type Service struct {
	store  storage.ClientStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.ClientStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterClient validates reg, applies defaults and persists the client.
// Registering identical metadata again against a canonical-ID store replaces
// the earlier record, including its secret.
func (s *Service) RegisterClient(ctx context.Context, reg *models.ClientRegistration) (*models.Client, error) {
	return s.register(ctx, reg, "")
}

func (s *Service) register(ctx context.Context, reg *models.ClientRegistration, secret string) (*models.Client, error) {
	if reg == nil {
		return nil, &Error{Code: ErrCodeInvalidClientMetadata, Description: "registration body is required"}
	}
	client, err := validate(reg)
	if err != nil {
		return nil, err
	}

	id, err := s.store.GenerateClientID(client)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	client.ClientID = id

	if client.IsConfidential() {
		if secret == "" {
			secret, err = generateSecret()
			if err != nil {
				return nil, err
			}
		}
		client.ClientSecret = secret
	}

	now := s.now()
	client.CreatedAt = now
	client.UpdatedAt = now
	existing, err := s.store.GetClient(ctx, id)
	switch {
	case err == nil:
		client.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	if err := s.store.StoreClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}

	s.logger.Info("Registered OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"auth_method", client.TokenEndpointAuthMethod)

	return client, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	return s.store.GetClient(ctx, clientID)
}

func (s *Service) FindClient(ctx context.Context, name string) (*models.Client, error) {
	return s.store.FindClient(ctx, name)
}

// ValidateRedirectURI reports whether uri is one of the client's registered
// redirect URIs, compared as exact strings. An unknown client is not an error.
func (s *Service) ValidateRedirectURI(ctx context.Context, clientID, uri string) (bool, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(client.RedirectURIs, uri), nil
}

// AuthenticateClient checks the secret presented by a confidential client.
// Public clients always pass.
func (s *Service) AuthenticateClient(client *models.Client, secret string) error {
	if !client.IsConfidential() {
		return nil
	}
	if secret == "" || subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(secret)) != 1 {
		return ErrInvalidClientCredentials
	}
	return nil
}

func validate(reg *models.ClientRegistration) (*models.Client, error) {
	if len(reg.RedirectURIs) == 0 {
		return nil, &Error{Code: ErrCodeInvalidRedirectURI, Description: "redirect_uris is required"}
	}
	if len(reg.RedirectURIs) > MaxRedirectURICount {
		return nil, &Error{Code: ErrCodeInvalidRedirectURI, Description: fmt.Sprintf("too many redirect_uris (maximum %d)", MaxRedirectURICount)}
	}
	for _, uri := range reg.RedirectURIs {
		u, err := url.Parse(uri)
		if err != nil || !u.IsAbs() {
			return nil, &Error{Code: ErrCodeInvalidRedirectURI, Description: fmt.Sprintf("redirect_uri must be an absolute URI: %q", uri)}
		}
	}

	if len([]rune(reg.ClientName)) > MaxClientNameLength {
		return nil, &Error{Code: ErrCodeInvalidClientMetadata, Description: fmt.Sprintf("client_name too long (maximum %d characters)", MaxClientNameLength)}
	}

	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = models.AuthMethodNone
	}
	if !slices.Contains(allowedAuthMethods, authMethod) {
		return nil, &Error{Code: ErrCodeInvalidClientMetadata, Description: fmt.Sprintf("unsupported token_endpoint_auth_method %q", authMethod)}
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	for _, gt := range grantTypes {
		if !slices.Contains(allowedGrantTypes, gt) {
			return nil, &Error{Code: ErrCodeInvalidClientMetadata, Description: fmt.Sprintf("unsupported grant_type %q", gt)}
		}
	}

	responseTypes := reg.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}
	for _, rt := range responseTypes {
		if !slices.Contains(allowedResponseTypes, rt) {
			return nil, &Error{Code: ErrCodeInvalidClientMetadata, Description: fmt.Sprintf("unsupported response_type %q", rt)}
		}
	}

	return &models.Client{
		ClientName:              reg.ClientName,
		RedirectURIs:            slices.Clone(reg.RedirectURIs),
		GrantTypes:              slices.Clone(grantTypes),
		ResponseTypes:           slices.Clone(responseTypes),
		TokenEndpointAuthMethod: authMethod,
	}, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
