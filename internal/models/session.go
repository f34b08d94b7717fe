package models

import (
	"time"
)

// OAuthSession tracks one browser round-trip through the upstream identity provider.
// State is the CSRF binding echoed back by the provider; OAuthState is the caller's
// own state parameter, returned untouched on the final redirect.
type OAuthSession struct {
	SessionID           string    `json:"session_id"`
	State               string    `json:"state"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	OAuthState          string    `json:"oauth_state,omitempty"`
	Resource            string    `json:"resource,omitempty"`
	Scope               string    `json:"scope,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

func (s *OAuthSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
