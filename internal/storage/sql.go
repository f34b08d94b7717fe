package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/andyleap/mcpauth/internal/models"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

const defaultPingTimeout = 5 * time.Second

// SQLConfig holds connection settings for OpenSQL.
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration

	// CanonicalClientIDs makes identical registrations share one client ID.
	// By default every registration gets a salted, unique ID.
	CanonicalClientIDs bool
}

// SQLStorage implements Storage on database/sql. Schema changes are applied
// with goose on open.
type SQLStorage struct {
	db          *sql.DB
	dialect     Dialect
	canonicalID bool
}

// OpenSQL opens the database described by cfg, pings it and applies migrations.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStorage, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.Dialect == DialectSQLite {
		// SQLite allows a single writer; serialising on one connection
		// avoids SQLITE_BUSY under concurrent redemption.
		db.SetMaxOpenConns(1)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Dialect, err)
	}

	s, err := NewSQLStorage(ctx, db, cfg.Dialect, cfg.CanonicalClientIDs)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStorage wraps an already open database and brings its schema up to date.
func NewSQLStorage(ctx context.Context, db *sql.DB, dialect Dialect, canonicalClientIDs bool) (*SQLStorage, error) {
	if err := runMigrations(ctx, db, dialect); err != nil {
		return nil, err
	}
	return &SQLStorage{
		db:          db,
		dialect:     dialect,
		canonicalID: canonicalClientIDs,
	}, nil
}

func openDB(cfg SQLConfig) (*sql.DB, error) {
	switch cfg.Dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	case DialectMySQL:
		mysqlCfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		if mysqlCfg.Params == nil {
			mysqlCfg.Params = map[string]string{}
		}
		if _, ok := mysqlCfg.Params["charset"]; !ok {
			mysqlCfg.Params["charset"] = "utf8mb4"
		}
		db, err := sql.Open("mysql", mysqlCfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql connection: %w", err)
		}
		return db, nil
	case DialectPostgres:
		connCfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		return stdlib.OpenDB(*connCfg), nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", cfg.Dialect)
	}
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) GenerateClientID(client *models.Client) (string, error) {
	if s.canonicalID {
		return CanonicalClientID(client)
	}
	return SaltedClientID(client)
}

const clientColumns = `client_id, client_secret, client_name, redirect_uris, grant_types,
	response_types, token_endpoint_auth_method, created_at, updated_at`

func (s *SQLStorage) StoreClient(ctx context.Context, client *models.Client) error {
	redirectURIs, err := encodeList(client.RedirectURIs)
	if err != nil {
		return err
	}
	grantTypes, err := encodeList(client.GrantTypes)
	if err != nil {
		return err
	}
	responseTypes, err := encodeList(client.ResponseTypes)
	if err != nil {
		return err
	}

	return s.upsert(ctx, "oauth_clients", "client_id", client.ClientID,
		`INSERT INTO oauth_clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID,
		nullString(client.ClientSecret),
		client.ClientName,
		redirectURIs,
		grantTypes,
		responseTypes,
		client.TokenEndpointAuthMethod,
		client.CreatedAt.UnixMilli(),
		client.UpdatedAt.UnixMilli(),
	)
}

func (s *SQLStorage) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = ?`), clientID)

	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// FindClient compares names in Go as well, since MySQL collations are
// case-insensitive by default.
func (s *SQLStorage) FindClient(ctx context.Context, name string) (*models.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+clientColumns+` FROM oauth_clients WHERE client_name = ? ORDER BY created_at, client_id`), name)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if client.ClientName == name {
			return client, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return nil, fmt.Errorf("client named %q: %w", name, ErrNotFound)
}

const authCodeColumns = `code, user_id, client_id, redirect_uri, code_challenge,
	code_challenge_method, resource, scope, expires_at, used_at`

func (s *SQLStorage) StoreAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	var usedAt sql.NullInt64
	if code.UsedAt != nil {
		usedAt = sql.NullInt64{Int64: code.UsedAt.UnixMilli(), Valid: true}
	}

	return s.upsert(ctx, "oauth_auth_codes", "code", code.Code,
		`INSERT INTO oauth_auth_codes (`+authCodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code,
		code.UserID,
		code.ClientID,
		code.RedirectURI,
		nullString(code.CodeChallenge),
		nullString(code.CodeChallengeMethod),
		nullString(code.Resource),
		nullString(code.Scope),
		code.ExpiresAt.UnixMilli(),
		usedAt,
	)
}

func (s *SQLStorage) GetAuthCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	var (
		c                                  models.AuthorizationCode
		challenge, method, resource, scope sql.NullString
		expiresAt                          int64
		usedAt                             sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+authCodeColumns+` FROM oauth_auth_codes WHERE code = ?`), code,
	).Scan(&c.Code, &c.UserID, &c.ClientID, &c.RedirectURI, &challenge, &method, &resource, &scope, &expiresAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	c.CodeChallenge = challenge.String
	c.CodeChallengeMethod = method.String
	c.Resource = resource.String
	c.Scope = scope.String
	c.ExpiresAt = time.UnixMilli(expiresAt)
	if usedAt.Valid {
		t := time.UnixMilli(usedAt.Int64)
		c.UsedAt = &t
	}

	if c.IsExpired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM oauth_auth_codes WHERE code = ?`), code)
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	return &c, nil
}

func (s *SQLStorage) RemoveAuthCode(ctx context.Context, code string) error {
	return s.remove(ctx, `DELETE FROM oauth_auth_codes WHERE code = ?`, code, "authorization code")
}

const sessionColumns = `session_id, state, client_id, redirect_uri, code_challenge,
	code_challenge_method, oauth_state, resource, scope, expires_at`

func (s *SQLStorage) StoreOAuthSession(ctx context.Context, session *models.OAuthSession) error {
	return s.upsert(ctx, "oauth_sessions", "session_id", session.SessionID,
		`INSERT INTO oauth_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		session.State,
		session.ClientID,
		session.RedirectURI,
		nullString(session.CodeChallenge),
		nullString(session.CodeChallengeMethod),
		nullString(session.OAuthState),
		nullString(session.Resource),
		nullString(session.Scope),
		session.ExpiresAt.UnixMilli(),
	)
}

func (s *SQLStorage) GetOAuthSession(ctx context.Context, sessionID string) (*models.OAuthSession, error) {
	var (
		sess                                           models.OAuthSession
		challenge, method, oauthState, resource, scope sql.NullString
		expiresAt                                      int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+sessionColumns+` FROM oauth_sessions WHERE session_id = ?`), sessionID,
	).Scan(&sess.SessionID, &sess.State, &sess.ClientID, &sess.RedirectURI, &challenge, &method, &oauthState, &resource, &scope, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth session: %w", err)
	}

	sess.CodeChallenge = challenge.String
	sess.CodeChallengeMethod = method.String
	sess.OAuthState = oauthState.String
	sess.Resource = resource.String
	sess.Scope = scope.String
	sess.ExpiresAt = time.UnixMilli(expiresAt)

	if sess.IsExpired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM oauth_sessions WHERE session_id = ?`), sessionID)
		return nil, fmt.Errorf("oauth session: %w", ErrNotFound)
	}
	return &sess, nil
}

func (s *SQLStorage) RemoveOAuthSession(ctx context.Context, sessionID string) error {
	return s.remove(ctx, `DELETE FROM oauth_sessions WHERE session_id = ?`, sessionID, "oauth session")
}

// upsert replaces the row keyed by id inside one transaction. Delete then
// insert keeps the statement portable across all three dialects.
func (s *SQLStorage) upsert(ctx context.Context, table, keyColumn, id, insert string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE `+keyColumn+` = ?`), id); err != nil {
		return fmt.Errorf("replacing %s row: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insert), args...); err != nil {
		return fmt.Errorf("inserting %s row: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// remove runs a single-row DELETE; zero affected rows means another caller
// already removed it.
func (s *SQLStorage) remove(ctx context.Context, query, id, what string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c                                       models.Client
		secret                                  sql.NullString
		redirectURIs, grantTypes, responseTypes string
		createdAt, updatedAt                    int64
	)
	if err := row.Scan(&c.ClientID, &secret, &c.ClientName, &redirectURIs, &grantTypes,
		&responseTypes, &c.TokenEndpointAuthMethod, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.ClientSecret = secret.String
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	if err := json.Unmarshal([]byte(redirectURIs), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decoding redirect_uris: %w", err)
	}
	if err := json.Unmarshal([]byte(grantTypes), &c.GrantTypes); err != nil {
		return nil, fmt.Errorf("decoding grant_types: %w", err)
	}
	if err := json.Unmarshal([]byte(responseTypes), &c.ResponseTypes); err != nil {
		return nil, fmt.Errorf("decoding response_types: %w", err)
	}
	return &c, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func rollback(tx *sql.Tx) { _ = tx.Rollback() }
