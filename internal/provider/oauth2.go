package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/andyleap/mcpauth/internal/models"
)

const maxUserInfoSize = 1 << 20

type profileMapper func(claims map[string]any) *models.OAuthUserProfile

// userInfoFetcher loads the raw profile claims for an access token.
type userInfoFetcher func(ctx context.Context, token *oauth2.Token) (map[string]any, error)

// oauth2Adapter is the authorization code flow shared by every provider;
// variants differ only in endpoints, scopes and how the profile is read.
type oauth2Adapter struct {
	name       string
	config     *oauth2.Config
	httpClient *http.Client
	fetchUser  userInfoFetcher
	mapProfile profileMapper
	logger     *slog.Logger
}

func (a *oauth2Adapter) Name() string {
	return a.name
}

func (a *oauth2Adapter) BeginRedirect(state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("state is required")
	}
	return a.config.AuthCodeURL(state), nil
}

func (a *oauth2Adapter) HandleCallback(ctx context.Context, r *http.Request) (*Result, error) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderDenied, e, q.Get("error_description"))
	}
	code := q.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx = a.clientContext(ctx)
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code with %s: %w", a.name, err)
	}

	claims, err := a.fetchUser(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s profile: %w", a.name, err)
	}

	profile := a.mapProfile(claims)
	if profile == nil || profile.Username == "" {
		return nil, ErrNoUser
	}
	profile.Provider = a.name
	profile.Raw = claims

	a.logger.Debug("Provider callback completed", "provider", a.name, "username", profile.Username)

	return &Result{
		Profile:     profile,
		AccessToken: tok.AccessToken,
		State:       q.Get("state"),
	}, nil
}

func (a *oauth2Adapter) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// jsonUserInfo fetches a JSON profile document from url with the access token.
func (a *oauth2Adapter) jsonUserInfo(url string) userInfoFetcher {
	return func(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create userinfo request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := a.config.Client(ctx, token).Do(req)
		if err != nil {
			return nil, fmt.Errorf("userinfo request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read userinfo response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
		}

		var claims map[string]any
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
		}
		return claims, nil
	}
}

// stringClaim reads a claim as a string; numeric IDs (GitHub) are formatted
// without a fraction.
func stringClaim(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
