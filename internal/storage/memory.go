package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/andyleap/mcpauth/internal/models"
)

// MemoryStorage keeps everything in process memory. Expired codes and
// sessions are dropped when they are next read; there is no sweeper, so an
// expired record that is never read again stays until the process exits.
type MemoryStorage struct {
	clients     map[string]*models.Client
	clientNames map[string]string
	authCodes   map[string]*models.AuthorizationCode
	sessions    map[string]*models.OAuthSession
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:     make(map[string]*models.Client),
		clientNames: make(map[string]string),
		authCodes:   make(map[string]*models.AuthorizationCode),
		sessions:    make(map[string]*models.OAuthSession),
	}
}

func (m *MemoryStorage) GenerateClientID(client *models.Client) (string, error) {
	return CanonicalClientID(client)
}

func (m *MemoryStorage) StoreClient(ctx context.Context, client *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[client.ClientID] = cloneClient(client)
	if _, exists := m.clientNames[client.ClientName]; !exists {
		m.clientNames[client.ClientName] = client.ClientID
	}
	return nil
}

func (m *MemoryStorage) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	return cloneClient(client), nil
}

func (m *MemoryStorage) FindClient(ctx context.Context, name string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clientID, exists := m.clientNames[name]
	if !exists {
		return nil, fmt.Errorf("client named %q: %w", name, ErrNotFound)
	}
	client, exists := m.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("client named %q: %w", name, ErrNotFound)
	}
	return cloneClient(client), nil
}

func (m *MemoryStorage) StoreAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *code
	m.authCodes[code.Code] = &c
	return nil
}

func (m *MemoryStorage) GetAuthCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	authCode, exists := m.authCodes[code]
	if !exists {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	if authCode.IsExpired(time.Now()) {
		delete(m.authCodes, code)
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}

	c := *authCode
	return &c, nil
}

func (m *MemoryStorage) RemoveAuthCode(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.authCodes[code]; !exists {
		return fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	delete(m.authCodes, code)
	return nil
}

func (m *MemoryStorage) StoreOAuthSession(ctx context.Context, session *models.OAuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.sessions[session.SessionID] = &s
	return nil
}

func (m *MemoryStorage) GetOAuthSession(ctx context.Context, sessionID string) (*models.OAuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}
	if session.IsExpired(time.Now()) {
		delete(m.sessions, sessionID)
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}

	s := *session
	return &s, nil
}

func (m *MemoryStorage) RemoveOAuthSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return fmt.Errorf("oauth session: %w", ErrNotFound)
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func cloneClient(c *models.Client) *models.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &out
}
