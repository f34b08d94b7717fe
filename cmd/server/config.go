package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/andyleap/mcpauth/internal/config"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Listen        string   `long:"listen" env:"LISTEN" default:":8080" description:"Address to listen on"`
	Issuer        string   `long:"issuer" env:"ISSUER" required:"true" description:"Externally reachable base URL of this server"`
	JWTSecret     string   `long:"jwt-secret" env:"JWT_SECRET" required:"true" description:"HS256 signing secret (at least 32 bytes)"`
	CallbackPath  string   `long:"callback-path" env:"CALLBACK_PATH" default:"/callback" description:"Path the identity provider redirects back to"`
	CORSOrigins   []string `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"Origins allowed to call the OAuth endpoints from a browser (* for any)"`
	StaticClients string   `long:"static-clients" env:"STATIC_CLIENTS" description:"YAML file of clients registered at startup"`
	LogLevel      string   `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat     string   `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`

	// Token and session lifetimes
	AccessTokenExpiresIn  string        `long:"access-token-ttl" env:"ACCESS_TOKEN_TTL" default:"1h" description:"Access token lifetime (e.g. 60s, 15m, 1h, 30d)"`
	RefreshTokenExpiresIn string        `long:"refresh-token-ttl" env:"REFRESH_TOKEN_TTL" default:"30d" description:"Refresh token lifetime"`
	AuthCodeExpiresIn     time.Duration `long:"auth-code-ttl" env:"AUTH_CODE_TTL" default:"10m" description:"Authorization code lifetime"`
	SessionExpiresIn      time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"10m" description:"Lifetime of the browser round-trip through the provider"`
	CookieMaxAge          time.Duration `long:"cookie-max-age" env:"COOKIE_MAX_AGE" default:"24h" description:"Lifetime of the auth_token UI cookie"`
	SecureCookies         bool          `long:"secure-cookies" env:"SECURE_COOKIES" description:"Mark cookies Secure (enable behind HTTPS)"`
	AllowNoPKCE           bool          `long:"allow-no-pkce" env:"ALLOW_NO_PKCE" description:"Accept authorization requests without a code_challenge"`

	// Storage config
	StorageType  string `long:"storage" env:"STORAGE" default:"memory" choice:"memory" choice:"sql" choice:"redis" choice:"custom" description:"Storage backend"`
	ClientStore  string `long:"client-store" env:"CLIENT_STORE" default:"memory" choice:"memory" choice:"sql" choice:"redis" choice:"s3" choice:"filesystem" description:"Client store when --storage=custom"`
	CodeStore    string `long:"code-store" env:"CODE_STORE" default:"memory" choice:"memory" choice:"sql" choice:"redis" description:"Authorization code store when --storage=custom"`
	SessionStore string `long:"session-store" env:"SESSION_STORE" default:"memory" choice:"memory" choice:"sql" choice:"redis" description:"OAuth session store when --storage=custom"`

	// Filesystem storage
	DataPath string `long:"data-path" env:"DATA_PATH" default:"./data" description:"Filesystem client store directory"`

	SQL struct {
		Dialect            string        `long:"sql-dialect" env:"SQL_DIALECT" default:"sqlite" choice:"sqlite" choice:"mysql" choice:"postgres" description:"SQL dialect"`
		DSN                string        `long:"sql-dsn" env:"SQL_DSN" default:"file:mcpauth.db?_pragma=busy_timeout(5000)" description:"SQL data source name"`
		MaxOpenConns       int           `long:"sql-max-open-conns" env:"SQL_MAX_OPEN_CONNS" default:"10" description:"Maximum open connections (sqlite always uses 1)"`
		MaxIdleConns       int           `long:"sql-max-idle-conns" env:"SQL_MAX_IDLE_CONNS" default:"5" description:"Maximum idle connections"`
		ConnMaxLifetime    time.Duration `long:"sql-conn-max-lifetime" env:"SQL_CONN_MAX_LIFETIME" default:"30m" description:"Maximum connection lifetime"`
		CanonicalClientIDs bool          `long:"sql-canonical-client-ids" env:"SQL_CANONICAL_CLIENT_IDS" description:"Derive client IDs from registration content instead of a random salt"`
	} `group:"SQL Storage Options"`

	// S3 storage
	S3 struct {
		Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" default:"localhost:9000" description:"S3 endpoint (host:port)"`
		Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"mcpauth" description:"S3 bucket name"`
		AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" default:"minioadmin" description:"S3 access key"`
		SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" default:"minioadmin" description:"S3 secret key"`
		UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use SSL for S3 connections"`
	} `group:"S3 Storage Options"`

	// Redis config
	Redis struct {
		Addr      string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password  string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB        int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
		KeyPrefix string `long:"redis-key-prefix" env:"REDIS_KEY_PREFIX" default:"mcpauth:" description:"Prefix for every Redis key"`
	} `group:"Redis Options"`

	// Upstream identity provider
	Provider struct {
		Type         string   `long:"provider" env:"PROVIDER" default:"github" choice:"github" choice:"google" choice:"azuread" choice:"custom" description:"Upstream identity provider"`
		Name         string   `long:"provider-name" env:"PROVIDER_NAME" description:"Display name of a custom provider"`
		ClientID     string   `long:"provider-client-id" env:"PROVIDER_CLIENT_ID" required:"true" description:"OAuth client ID at the provider"`
		ClientSecret string   `long:"provider-client-secret" env:"PROVIDER_CLIENT_SECRET" description:"OAuth client secret at the provider"`
		Scopes       []string `long:"provider-scope" env:"PROVIDER_SCOPES" env-delim:"," description:"Scopes to request (defaults per provider)"`
		Tenant       string   `long:"provider-tenant" env:"PROVIDER_TENANT" description:"Azure AD tenant (default common)"`
		Issuer       string   `long:"provider-issuer" env:"PROVIDER_ISSUER" description:"OIDC issuer for discovery (custom provider)"`
		AuthURL      string   `long:"provider-auth-url" env:"PROVIDER_AUTH_URL" description:"Authorization endpoint override"`
		TokenURL     string   `long:"provider-token-url" env:"PROVIDER_TOKEN_URL" description:"Token endpoint override"`
		UserInfoURL  string   `long:"provider-userinfo-url" env:"PROVIDER_USERINFO_URL" description:"User profile endpoint override"`
	} `group:"Identity Provider Options"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig() (*Config, error) {
	var cfg Config

	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Options converts the parsed flags into the options shared by every component.
func (c *Config) Options() config.Options {
	return config.Options{
		Issuer:                c.Issuer,
		JWTSecret:             c.JWTSecret,
		AccessTokenExpiresIn:  c.AccessTokenExpiresIn,
		RefreshTokenExpiresIn: c.RefreshTokenExpiresIn,
		AuthCodeExpiresIn:     c.AuthCodeExpiresIn,
		OAuthSessionExpiresIn: c.SessionExpiresIn,
		CookieMaxAge:          c.CookieMaxAge,
		SecureCookies:         c.SecureCookies,
		RequirePKCE:           !c.AllowNoPKCE,
		CallbackPath:          c.CallbackPath,
		StorageType:           c.StorageType,
	}.WithDefaults()
}
