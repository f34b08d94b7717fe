package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andyleap/mcpauth/internal/config"
	"github.com/andyleap/mcpauth/internal/storage"
)

// backends opens each shared backend at most once, so --storage=custom can
// point several roles at the same database or Redis connection.
type backends struct {
	cfg    *Config
	logger *slog.Logger

	memory *storage.MemoryStorage
	sql    *storage.SQLStorage
	redis  *storage.RedisStorage
}

func (b *backends) memoryStore() *storage.MemoryStorage {
	if b.memory == nil {
		b.memory = storage.NewMemoryStorage()
		b.logger.Warn("Using in-memory storage (not persistent)")
	}
	return b.memory
}

func (b *backends) sqlStore(ctx context.Context) (*storage.SQLStorage, error) {
	if b.sql != nil {
		return b.sql, nil
	}
	s, err := storage.OpenSQL(ctx, storage.SQLConfig{
		Dialect:            storage.Dialect(b.cfg.SQL.Dialect),
		DSN:                b.cfg.SQL.DSN,
		MaxOpenConns:       b.cfg.SQL.MaxOpenConns,
		MaxIdleConns:       b.cfg.SQL.MaxIdleConns,
		ConnMaxLifetime:    b.cfg.SQL.ConnMaxLifetime,
		CanonicalClientIDs: b.cfg.SQL.CanonicalClientIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL storage: %w", err)
	}
	b.sql = s
	b.logger.Info("Using SQL storage", "dialect", b.cfg.SQL.Dialect)
	return s, nil
}

func (b *backends) redisStore(ctx context.Context) (*storage.RedisStorage, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	s, err := storage.OpenRedis(ctx, storage.RedisConfig{
		Addr:      b.cfg.Redis.Addr,
		Password:  b.cfg.Redis.Password,
		DB:        b.cfg.Redis.DB,
		KeyPrefix: b.cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	b.redis = s
	b.logger.Info("Using Redis storage", "addr", b.cfg.Redis.Addr)
	return s, nil
}

// full returns a backend implementing every store role.
func (b *backends) full(ctx context.Context, kind string) (storage.Storage, error) {
	switch kind {
	case config.StorageMemory:
		return b.memoryStore(), nil
	case config.StorageSQL:
		return b.sqlStore(ctx)
	case config.StorageRedis:
		return b.redisStore(ctx)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

func (b *backends) clientStore(ctx context.Context, kind string) (storage.ClientStore, error) {
	switch kind {
	case "s3":
		s, err := storage.NewS3ClientStore(b.cfg.S3.Endpoint, b.cfg.S3.AccessKey, b.cfg.S3.SecretKey, b.cfg.S3.Bucket, b.cfg.S3.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client store: %w", err)
		}
		b.logger.Info("Using S3 client store", "endpoint", b.cfg.S3.Endpoint, "bucket", b.cfg.S3.Bucket)
		return s, nil
	case "filesystem":
		s, err := storage.NewFilesystemClientStore(b.cfg.DataPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem client store: %w", err)
		}
		b.logger.Info("Using filesystem client store", "path", b.cfg.DataPath)
		return s, nil
	default:
		return b.full(ctx, kind)
	}
}

// buildStorage resolves --storage (and the per-role stores for "custom").
func buildStorage(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.Storage, error) {
	b := &backends{cfg: cfg, logger: logger}

	if cfg.StorageType != config.StorageCustom {
		return b.full(ctx, cfg.StorageType)
	}

	clients, err := b.clientStore(ctx, cfg.ClientStore)
	if err != nil {
		return nil, err
	}
	codes, err := b.full(ctx, cfg.CodeStore)
	if err != nil {
		return nil, err
	}
	sessions, err := b.full(ctx, cfg.SessionStore)
	if err != nil {
		return nil, err
	}
	logger.Info("Using composed storage",
		"client_store", cfg.ClientStore,
		"code_store", cfg.CodeStore,
		"session_store", cfg.SessionStore)
	return storage.Compose(clients, codes, sessions), nil
}
