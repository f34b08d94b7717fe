package models

import (
	"time"
)

// Token endpoint authentication methods a client may register with.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"
)

// Grant, response and PKCE identifiers used on the wire.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"

	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// Client represents an OAuth client application registered with the server
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	ClientName              string    `json:"client_name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// IsConfidential reports whether the client must authenticate at the token endpoint.
func (c *Client) IsConfidential() bool {
	return c.TokenEndpointAuthMethod != "" && c.TokenEndpointAuthMethod != AuthMethodNone
}

// ClientRegistration is the dynamic client registration request body
type ClientRegistration struct {
	ClientName              string   `json:"client_name" yaml:"client_name"`
	RedirectURIs            []string `json:"redirect_uris" yaml:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty" yaml:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty" yaml:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty" yaml:"token_endpoint_auth_method,omitempty"`
}

// AuthorizationCode represents an issued, not yet redeemed authorization code
type AuthorizationCode struct {
	Code                string     `json:"code"`
	UserID              string     `json:"user_id"`
	ClientID            string     `json:"client_id"`
	RedirectURI         string     `json:"redirect_uri"`
	CodeChallenge       string     `json:"code_challenge,omitempty"`
	CodeChallengeMethod string     `json:"code_challenge_method,omitempty"`
	Resource            string     `json:"resource,omitempty"`
	Scope               string     `json:"scope,omitempty"`
	ExpiresAt           time.Time  `json:"expires_at"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
}

// IsExpired reports whether the code is past its expiry at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
