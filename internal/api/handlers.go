// Package api is the HTTP surface of the authorization server: discovery,
// registration, the authorization and token endpoints, and the bearer guard
// for the protected MCP API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/andyleap/mcpauth/internal/config"
	"github.com/andyleap/mcpauth/internal/oauth"
	"github.com/andyleap/mcpauth/internal/registry"
	"github.com/andyleap/mcpauth/internal/ui"
)

// Transient cookies binding the browser to its OAuth session between
// /authorize and the provider callback.
const (
	SessionCookie = "oauth_session"
	StateCookie   = "oauth_state"
)

const maxBodyBytes = 64 << 10

type Server struct {
	opts    config.Options
	oauth   *oauth.Service
	clients *registry.Service
	pages   *ui.OAuthUIHandlers
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer wires the handlers. metrics may be nil, in which case /metrics
// is not served.
func NewServer(opts config.Options, flow *oauth.Service, clients *registry.Service, pages *ui.OAuthUIHandlers, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		oauth:   flow,
		clients: clients,
		pages:   pages,
		metrics: metrics,
		logger:  logger,
	}
}

// Routes registers every endpoint on a new mux. Embedders mount their MCP
// handler behind s.RequireBearer on the same mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// OAuth routes
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.MetadataHandler)
	mux.HandleFunc("POST /register", s.RegisterHandler)
	mux.HandleFunc("GET /authorize", s.AuthorizeHandler)
	mux.HandleFunc("GET "+s.opts.CallbackPath, s.CallbackHandler)
	mux.HandleFunc("POST /token", s.TokenHandler)
	mux.HandleFunc("POST /revoke", s.RevokeHandler)
	mux.Handle("GET /validate", s.RequireBearer(http.HandlerFunc(s.ValidateHandler)))

	mux.HandleFunc("GET /health", s.HealthHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// UI
	mux.HandleFunc("GET /{$}", s.pages.LandingHandler)
	mux.HandleFunc("GET /me", s.pages.MeHandler)

	return mux
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOAuthError answers with the RFC 6749 error body. Only the description
// of an *oauth.Error reaches the client.
func (s *Server) writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *oauth.Error
	if !errors.As(err, &oauthErr) {
		s.logger.Error("Unexpected error", "error", err)
	}
	e := oauth.AsError(err)
	writeJSON(w, e.StatusCode(), errorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
