package provider

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// newCustom builds an adapter for an arbitrary provider. With an Issuer the
// endpoints come from OIDC discovery; otherwise AuthURL, TokenURL and
// UserInfoURL must all be set.
func newCustom(ctx context.Context, cfg Config) (*oauth2Adapter, error) {
	if cfg.Issuer == "" {
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, fmt.Errorf("custom provider needs an issuer or auth, token and userinfo URLs")
		}
		endpoint := oauth2.Endpoint{AuthStyle: oauth2.AuthStyleInParams}
		a := newOAuth2Adapter(cfg.customName(), cfg, endpoint, oidcScopes, mapOIDCProfile)
		a.fetchUser = a.jsonUserInfo(cfg.UserInfoURL)
		return a, nil
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	discovered, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	endpoint := discovered.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	a := newOAuth2Adapter(cfg.customName(), cfg, endpoint, oidcScopes, mapOIDCProfile)

	if cfg.UserInfoURL != "" {
		a.fetchUser = a.jsonUserInfo(cfg.UserInfoURL)
		return a, nil
	}
	a.fetchUser = func(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
		if cfg.HTTPClient != nil {
			ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
		}
		info, err := discovered.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, err
		}
		var claims map[string]any
		if err := info.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to decode userinfo claims: %w", err)
		}
		return claims, nil
	}
	return a, nil
}
