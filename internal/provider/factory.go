package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Provider types accepted by New.
const (
	TypeGitHub  = "github"
	TypeGoogle  = "google"
	TypeAzureAD = "azuread"
	TypeCustom  = "custom"
)

// Config selects and configures an upstream identity provider.
type Config struct {
	Type         string
	Name         string // display name for custom providers
	ClientID     string
	ClientSecret string
	// RedirectURL is this server's callback URL as registered with the provider.
	RedirectURL string
	Scopes      []string

	// Tenant is the Azure AD tenant; empty means "common".
	Tenant string

	// Issuer enables OIDC discovery for custom providers.
	Issuer string

	// Explicit endpoints. Required for custom providers without an Issuer,
	// optional overrides for the others.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Config) customName() string {
	if c.Name == "" {
		return TypeCustom
	}
	return c.Name
}

// New builds the adapter selected by cfg.Type. Custom providers with an
// issuer perform discovery here, so ctx bounds that request.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("provider client id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("provider redirect url is required")
	}

	switch cfg.Type {
	case TypeGitHub:
		return newGitHub(cfg), nil
	case TypeGoogle:
		return newGoogle(cfg), nil
	case TypeAzureAD:
		return newAzureAD(cfg), nil
	case TypeCustom:
		return newCustom(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
