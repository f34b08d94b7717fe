package provider

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/andyleap/mcpauth/internal/models"
)

const (
	githubUserURL  = "https://api.github.com/user"
	googleUserURL  = "https://openidconnect.googleapis.com/v1/userinfo"
	azureADUserURL = "https://graph.microsoft.com/v1.0/me"
)

var (
	githubScopes  = []string{"read:user", "user:email"}
	oidcScopes    = []string{"openid", "profile", "email"}
	azureADScopes = []string{"openid", "profile", "email", "User.Read"}
)

func newGitHub(cfg Config) *oauth2Adapter {
	a := newOAuth2Adapter("github", cfg, endpoints.GitHub, githubScopes, mapGitHubProfile)
	a.fetchUser = a.jsonUserInfo(firstNonEmpty(cfg.UserInfoURL, githubUserURL))
	return a
}

func mapGitHubProfile(c map[string]any) *models.OAuthUserProfile {
	return &models.OAuthUserProfile{
		ID:          stringClaim(c, "id"),
		Username:    stringClaim(c, "login"),
		Email:       stringClaim(c, "email"),
		DisplayName: firstNonEmpty(stringClaim(c, "name"), stringClaim(c, "login")),
		AvatarURL:   stringClaim(c, "avatar_url"),
	}
}

func newGoogle(cfg Config) *oauth2Adapter {
	a := newOAuth2Adapter("google", cfg, endpoints.Google, oidcScopes, mapOIDCProfile)
	a.fetchUser = a.jsonUserInfo(firstNonEmpty(cfg.UserInfoURL, googleUserURL))
	return a
}

func newAzureAD(cfg Config) *oauth2Adapter {
	a := newOAuth2Adapter("azuread", cfg, endpoints.AzureAD(cfg.Tenant), azureADScopes, mapAzureADProfile)
	a.fetchUser = a.jsonUserInfo(firstNonEmpty(cfg.UserInfoURL, azureADUserURL))
	return a
}

func mapAzureADProfile(c map[string]any) *models.OAuthUserProfile {
	return &models.OAuthUserProfile{
		ID:          stringClaim(c, "id"),
		Username:    firstNonEmpty(stringClaim(c, "userPrincipalName"), stringClaim(c, "mail"), stringClaim(c, "id")),
		Email:       firstNonEmpty(stringClaim(c, "mail"), stringClaim(c, "userPrincipalName")),
		DisplayName: stringClaim(c, "displayName"),
	}
}

// mapOIDCProfile reads standard OpenID Connect claims.
func mapOIDCProfile(c map[string]any) *models.OAuthUserProfile {
	return &models.OAuthUserProfile{
		ID:          stringClaim(c, "sub"),
		Username:    firstNonEmpty(stringClaim(c, "preferred_username"), stringClaim(c, "email"), stringClaim(c, "sub")),
		Email:       stringClaim(c, "email"),
		DisplayName: stringClaim(c, "name"),
		AvatarURL:   stringClaim(c, "picture"),
	}
}

// newOAuth2Adapter builds the shared adapter. Explicit AuthURL/TokenURL in
// cfg override the well-known endpoint, e.g. for GitHub Enterprise.
func newOAuth2Adapter(name string, cfg Config, endpoint oauth2.Endpoint, defaultScopes []string, mapper profileMapper) *oauth2Adapter {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &oauth2Adapter{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient: cfg.HTTPClient,
		mapProfile: mapper,
		logger:     cfg.logger(),
	}
}
