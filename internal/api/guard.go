package api

import (
	"context"
	"net/http"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/oauth"
)

type payloadContextKey struct{}

// WithPayload stores the validated access token claims in ctx.
func WithPayload(ctx context.Context, payload *models.JWTPayload) context.Context {
	if payload == nil {
		return ctx
	}
	return context.WithValue(ctx, payloadContextKey{}, payload)
}

// PayloadFromContext returns the claims attached by RequireBearer.
func PayloadFromContext(ctx context.Context) (*models.JWTPayload, bool) {
	payload, ok := ctx.Value(payloadContextKey{}).(*models.JWTPayload)
	return payload, ok
}

// RequireBearer rejects requests without a valid access token with 401 and
// hands the rest to next with the token's claims in the request context.
// This is the guard protecting the MCP resource API.
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" {
			s.unauthorized(w, "missing bearer token")
			return
		}
		payload, err := s.oauth.ValidateToken(r.Context(), bearer)
		if err != nil {
			s.logger.Debug("Rejected bearer token", "error", err)
			s.unauthorized(w, oauth.AsError(err).Description)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPayload(r.Context(), payload)))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+s.opts.Issuer+`", error="`+oauth.CodeInvalidToken+`"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error:            oauth.CodeInvalidToken,
		ErrorDescription: description,
	})
}
