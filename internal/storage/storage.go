// Package storage persists OAuth clients, authorization codes and in-flight
// OAuth sessions. Every backend satisfies the same contract:
//
//   - GetAuthCode and GetOAuthSession expire lazily: a record read after its
//     expiry is deleted and reported as ErrNotFound.
//   - Storing under an existing key replaces the previous record.
//   - RemoveAuthCode and RemoveOAuthSession report ErrNotFound when nothing was
//     removed, so of two concurrent removals of one key exactly one succeeds.
package storage

import (
	"context"
	"errors"

	"github.com/andyleap/mcpauth/internal/models"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist or has expired.
var ErrNotFound = errors.New("not found")

type ClientStore interface {
	StoreClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	// FindClient returns the first client registered under exactly this name.
	FindClient(ctx context.Context, name string) (*models.Client, error)
	// GenerateClientID derives the ID for a client from its registration content.
	GenerateClientID(client *models.Client) (string, error)
}

type AuthCodeStore interface {
	StoreAuthCode(ctx context.Context, code *models.AuthorizationCode) error
	GetAuthCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	RemoveAuthCode(ctx context.Context, code string) error
}

type SessionStore interface {
	StoreOAuthSession(ctx context.Context, session *models.OAuthSession) error
	GetOAuthSession(ctx context.Context, sessionID string) (*models.OAuthSession, error)
	RemoveOAuthSession(ctx context.Context, sessionID string) error
}

// Storage is the full port used by the registry and the authorization flow.
type Storage interface {
	ClientStore
	AuthCodeStore
	SessionStore
	Close() error
}
