// Package provider adapts upstream identity providers (GitHub, Google, Azure AD
// or any OAuth2/OIDC server) to the one shape the authorization flow needs:
// a redirect URL to send the browser to, and a user profile once it comes back.
package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/andyleap/mcpauth/internal/models"
)

var (
	// ErrProviderDenied is returned when the provider redirects back with an error parameter.
	ErrProviderDenied = errors.New("identity provider returned an error")
	// ErrMissingCode is returned when the callback carries neither an error nor a code.
	ErrMissingCode = errors.New("callback is missing the authorization code")
	// ErrNoUser is returned when the provider's profile has no usable identity.
	ErrNoUser = errors.New("identity provider returned no user")
)

// Adapter is implemented by every upstream identity provider.
type Adapter interface {
	Name() string
	// BeginRedirect returns the provider URL the browser is sent to. state is
	// echoed back on the callback.
	BeginRedirect(state string) (string, error)
	// HandleCallback completes the provider round-trip from the callback request.
	HandleCallback(ctx context.Context, r *http.Request) (*Result, error)
}

// Result is what an adapter learned from a completed callback.
type Result struct {
	Profile     *models.OAuthUserProfile
	AccessToken string
	// State is the state query parameter the provider echoed back.
	State string
}
