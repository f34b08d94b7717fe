// Package ui renders the few HTML pages a browser sees: the landing page,
// callback failures and the signed-in user's session.
package ui

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/token"
)

// SessionCookie holds the user token minted at the provider callback.
const SessionCookie = "auth_token"

//go:embed templates/*.html
var templatesFS embed.FS

type OAuthUIHandlers struct {
	tokens    *token.Service
	issuer    string
	provider  string
	templates *template.Template
	logger    *slog.Logger
}

func NewOAuthUIHandlers(tokens *token.Service, issuer, providerName string, logger *slog.Logger) (*OAuthUIHandlers, error) {
	// Parse embedded templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OAuthUIHandlers{
		tokens:    tokens,
		issuer:    issuer,
		provider:  providerName,
		templates: templates,
		logger:    logger,
	}, nil
}

// LandingHandler serves GET /.
func (oh *OAuthUIHandlers) LandingHandler(w http.ResponseWriter, r *http.Request) {
	_, signedIn := oh.currentUser(r)
	data := struct {
		Issuer   string
		Provider string
		SignedIn bool
	}{
		Issuer:   oh.issuer,
		Provider: oh.provider,
		SignedIn: signedIn,
	}
	oh.render(w, http.StatusOK, "landing.html", data)
}

// MeHandler shows the user behind the auth_token cookie. Only user tokens are
// accepted; an access token pasted into the cookie is treated as signed out.
func (oh *OAuthUIHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	payload, ok := oh.currentUser(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	data := struct {
		Username    string
		DisplayName string
		Email       string
		AvatarURL   string
		ExpiresAt   time.Time
	}{
		Username:    payload.Username,
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
		AvatarURL:   payload.AvatarURL,
		ExpiresAt:   time.Unix(payload.ExpiresAt, 0).UTC(),
	}
	if data.Username == "" {
		data.Username = payload.Subject
	}

	w.Header().Set("Cache-Control", "no-store")
	oh.render(w, http.StatusOK, "me.html", data)
}

// RenderError renders the error page with the given status.
func (oh *OAuthUIHandlers) RenderError(w http.ResponseWriter, status int, title, message string) {
	data := struct {
		Title   string
		Message string
	}{
		Title:   title,
		Message: message,
	}
	oh.render(w, status, "error.html", data)
}

func (oh *OAuthUIHandlers) currentUser(r *http.Request) (*models.JWTPayload, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	payload, err := oh.tokens.ValidateUserToken(cookie.Value)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (oh *OAuthUIHandlers) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := oh.templates.ExecuteTemplate(w, name, data); err != nil {
		oh.logger.Error("Failed to render template", "template", name, "error", err)
	}
}
