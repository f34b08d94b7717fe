// Package config holds the options shared by every component of the
// authorization server. One Options value is built at process start and
// handed to the token service, storage factory, orchestrator and handlers.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andyleap/mcpauth/internal/token"
)

// Storage backends selectable at startup.
const (
	StorageMemory = "memory"
	StorageSQL    = "sql"
	StorageRedis  = "redis"
	StorageCustom = "custom"
)

// Defaults applied by Options.WithDefaults.
const (
	DefaultAccessTokenExpiresIn  = "1h"
	DefaultRefreshTokenExpiresIn = "30d"
	DefaultAuthCodeExpiresIn     = 10 * time.Minute
	DefaultSessionExpiresIn      = 10 * time.Minute
	DefaultCookieMaxAge          = 24 * time.Hour

	minSecretLength = 32
)

// Options configures the authorization server core.
type Options struct {
	// Issuer is the externally reachable base URL, e.g. https://auth.example.com.
	Issuer string

	// JWTSecret signs every token issued by the server.
	JWTSecret string

	// AccessTokenExpiresIn and RefreshTokenExpiresIn are duration strings
	// ("60s", "15m", "30d"); a bare number is seconds.
	AccessTokenExpiresIn  string
	RefreshTokenExpiresIn string

	AuthCodeExpiresIn     time.Duration
	OAuthSessionExpiresIn time.Duration

	// CookieMaxAge bounds the UI session cookie and the user token inside it.
	CookieMaxAge  time.Duration
	SecureCookies bool

	// RequirePKCE rejects authorization requests without a code_challenge.
	RequirePKCE bool

	// CallbackPath is where the provider adapter redirects back to.
	CallbackPath string

	// StorageType is one of StorageMemory, StorageSQL, StorageRedis or StorageCustom.
	StorageType string
}

// WithDefaults returns a copy of o with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.AccessTokenExpiresIn == "" {
		o.AccessTokenExpiresIn = DefaultAccessTokenExpiresIn
	}
	if o.RefreshTokenExpiresIn == "" {
		o.RefreshTokenExpiresIn = DefaultRefreshTokenExpiresIn
	}
	if o.AuthCodeExpiresIn == 0 {
		o.AuthCodeExpiresIn = DefaultAuthCodeExpiresIn
	}
	if o.OAuthSessionExpiresIn == 0 {
		o.OAuthSessionExpiresIn = DefaultSessionExpiresIn
	}
	if o.CookieMaxAge == 0 {
		o.CookieMaxAge = DefaultCookieMaxAge
	}
	if o.CallbackPath == "" {
		o.CallbackPath = "/callback"
	}
	if o.StorageType == "" {
		o.StorageType = StorageMemory
	}
	o.Issuer = strings.TrimRight(o.Issuer, "/")
	return o
}

// Validate reports the first configuration problem found.
func (o Options) Validate() error {
	if o.Issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(o.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL: %q", o.Issuer)
	}
	if len(o.JWTSecret) < minSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if _, err := token.ParseDuration(o.AccessTokenExpiresIn); err != nil {
		return fmt.Errorf("invalid access token expiry: %w", err)
	}
	if _, err := token.ParseDuration(o.RefreshTokenExpiresIn); err != nil {
		return fmt.Errorf("invalid refresh token expiry: %w", err)
	}
	if o.AuthCodeExpiresIn <= 0 {
		return errors.New("auth code expiry must be positive")
	}
	if o.OAuthSessionExpiresIn <= 0 {
		return errors.New("oauth session expiry must be positive")
	}
	if o.CookieMaxAge <= 0 {
		return errors.New("cookie max age must be positive")
	}
	if !strings.HasPrefix(o.CallbackPath, "/") {
		return fmt.Errorf("callback path must start with '/': %q", o.CallbackPath)
	}
	switch o.StorageType {
	case StorageMemory, StorageSQL, StorageRedis, StorageCustom:
	default:
		return fmt.Errorf("unknown storage type %q", o.StorageType)
	}
	return nil
}

// CallbackURL is the absolute redirect URL registered with the identity provider.
func (o Options) CallbackURL() string {
	return o.Issuer + o.CallbackPath
}
