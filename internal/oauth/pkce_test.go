package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	const (
		verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	)

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
		want      bool
	}{
		{"s256 match", verifier, challenge, "S256", true},
		{"s256 wrong verifier", "not-the-verifier", challenge, "S256", false},
		{"plain match", "plain-verifier", "plain-verifier", "plain", true},
		{"plain mismatch", "plain-verifier", "other", "plain", false},
		{"plain compared as s256", verifier, verifier, "S256", false},
		{"empty verifier", "", challenge, "S256", false},
		{"empty challenge", verifier, "", "plain", false},
		{"unknown method", verifier, verifier, "S512", false},
		{"method is case sensitive", verifier, challenge, "s256", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, VerifyPKCE(tt.verifier, tt.challenge, tt.method))
		})
	}
}

func TestBuildRedirectURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		redirectURI string
		state       string
		want        string
	}{
		{"with state", "http://localhost:3000/cb", "xyz", "http://localhost:3000/cb?code=abc&state=xyz"},
		{"without state", "http://localhost:3000/cb", "", "http://localhost:3000/cb?code=abc"},
		{"keeps existing query", "https://app.example.com/cb?tenant=a", "s", "https://app.example.com/cb?code=abc&state=s&tenant=a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildRedirectURL(tt.redirectURI, "abc", tt.state))
		})
	}
}
