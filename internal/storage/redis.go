package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andyleap/mcpauth/internal/models"
)

const DefaultRedisKeyPrefix = "mcpauth:"

// minRedisTTL is the floor applied to records stored already expired, so the
// next read still sees and deletes them.
const minRedisTTL = time.Second

// RedisConfig holds connection settings for OpenRedis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStorage stores records as JSON values with a TTL matching their expiry.
// Clients never expire.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedis connects to Redis and verifies the connection with a ping.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorage(client, cfg.KeyPrefix), nil
}

func NewRedisStorage(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStorage{
		client: client,
		prefix: keyPrefix,
	}
}

func (r *RedisStorage) key(kind, id string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, kind, id)
}

func (r *RedisStorage) GenerateClientID(client *models.Client) (string, error) {
	return CanonicalClientID(client)
}

func (r *RedisStorage) StoreClient(ctx context.Context, client *models.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := r.client.Set(ctx, r.key("client", client.ClientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	// First registration under a name wins the name index.
	if err := r.client.SetNX(ctx, r.key("client_name", client.ClientName), client.ClientID, 0).Err(); err != nil {
		return fmt.Errorf("failed to index client name: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	data, err := r.client.Get(ctx, r.key("client", clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client models.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &client, nil
}

func (r *RedisStorage) FindClient(ctx context.Context, name string) (*models.Client, error) {
	clientID, err := r.client.Get(ctx, r.key("client_name", name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("client named %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up client name: %w", err)
	}

	return r.GetClient(ctx, clientID)
}

func (r *RedisStorage) StoreAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	err = r.client.Set(ctx, r.key("code", code.Code), data, ttlUntil(code.ExpiresAt)).Err()
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetAuthCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	key := r.key("code", code)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var authCode models.AuthorizationCode
	if err := json.Unmarshal(data, &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	if authCode.IsExpired(time.Now()) {
		r.client.Del(ctx, key)
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}

	return &authCode, nil
}

// RemoveAuthCode relies on DEL reporting how many keys it removed, which
// makes it the single point of truth for which redemption wins.
func (r *RedisStorage) RemoveAuthCode(ctx context.Context, code string) error {
	return r.remove(ctx, r.key("code", code), "authorization code")
}

func (r *RedisStorage) StoreOAuthSession(ctx context.Context, session *models.OAuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth session: %w", err)
	}

	err = r.client.Set(ctx, r.key("session", session.SessionID), data, ttlUntil(session.ExpiresAt)).Err()
	if err != nil {
		return fmt.Errorf("failed to save oauth session: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetOAuthSession(ctx context.Context, sessionID string) (*models.OAuthSession, error) {
	key := r.key("session", sessionID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth session: %w", err)
	}

	var session models.OAuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal oauth session: %w", err)
	}

	if session.IsExpired(time.Now()) {
		r.client.Del(ctx, key)
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}

	return &session, nil
}

func (r *RedisStorage) RemoveOAuthSession(ctx context.Context, sessionID string) error {
	return r.remove(ctx, r.key("session", sessionID), "oauth session")
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) remove(ctx context.Context, key, what string) error {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < minRedisTTL {
		return minRedisTTL
	}
	return ttl
}
