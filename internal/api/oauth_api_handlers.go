package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/oauth"
	"github.com/andyleap/mcpauth/internal/registry"
	"github.com/andyleap/mcpauth/internal/ui"
)

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// MetadataHandler handles authorization server discovery
// GET /.well-known/oauth-authorization-server
func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	issuer := s.opts.Issuer
	writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/authorize",
		TokenEndpoint:          issuer + "/token",
		RegistrationEndpoint:   issuer + "/register",
		ResponseTypesSupported: []string{models.ResponseTypeCode},
		ResponseModesSupported: []string{"query"},
		GrantTypesSupported:    []string{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{
			models.AuthMethodClientSecretBasic,
			models.AuthMethodClientSecretPost,
			models.AuthMethodNone,
		},
		RevocationEndpoint:            issuer + "/revoke",
		CodeChallengeMethodsSupported: []string{models.CodeChallengeMethodPlain, models.CodeChallengeMethodS256},
	})
}

type registrationResponse struct {
	*models.Client
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt *int64 `json:"client_secret_expires_at,omitempty"`
}

// RegisterHandler handles dynamic client registration
// POST /register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var reg models.ClientRegistration
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&reg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:            registry.ErrCodeInvalidClientMetadata,
			ErrorDescription: "invalid JSON body",
		})
		return
	}

	client, err := s.clients.RegisterClient(r.Context(), &reg)
	if err != nil {
		var regErr *registry.Error
		if errors.As(err, &regErr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: regErr.Code, ErrorDescription: regErr.Description})
			return
		}
		s.logger.Error("Client registration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: oauth.CodeServerError, ErrorDescription: "internal server error"})
		return
	}

	resp := registrationResponse{
		Client:           client,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
	}
	if client.ClientSecret != "" {
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, resp)
}

// AuthorizeHandler starts the authorization code flow and sends the browser
// to the identity provider
// GET /authorize?response_type=code&client_id=...&redirect_uri=...&code_challenge=...
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.oauth.Begin(r.Context(), oauth.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               q.Get("state"),
		Resource:            q.Get("resource"),
		Scope:               q.Get("scope"),
	})
	if err != nil {
		// The redirect_uri is not trusted yet, so errors are shown here
		// rather than sent back to the client.
		e := oauth.AsError(err)
		http.Error(w, e.Description, e.StatusCode())
		return
	}

	s.setCookie(w, SessionCookie, res.SessionID, res.ExpiresIn)
	s.setCookie(w, StateCookie, res.State, res.ExpiresIn)
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// CallbackHandler receives the identity provider redirect, issues the
// authorization code and sends the browser back to the client
// GET /callback
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.oauth.HandleCallback(r.Context(), oauth.CallbackInput{
		Request:     r,
		SessionID:   cookieValue(r, SessionCookie),
		StateCookie: cookieValue(r, StateCookie),
	})

	// Either way the transient cookies are spent.
	s.clearCookie(w, SessionCookie)
	s.clearCookie(w, StateCookie)

	if err != nil {
		e := oauth.AsError(err)
		s.pages.RenderError(w, e.StatusCode(), "Sign-in failed", e.Description)
		return
	}

	s.setCookie(w, ui.SessionCookie, res.UserToken, s.opts.CookieMaxAge)
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

type tokenRequestBody struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// TokenHandler exchanges authorization codes and refresh tokens
// POST /token
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	req, err := parseTokenRequest(w, r)
	if err != nil {
		s.writeOAuthError(w, err)
		return
	}

	pair, err := s.oauth.ExchangeToken(r.Context(), req)
	if err != nil {
		s.writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// parseTokenRequest reads a form or JSON body and merges HTTP Basic client
// credentials into it (RFC 6749 section 2.3.1).
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (oauth.TokenRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body tokenRequestBody
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return oauth.TokenRequest{}, invalidRequest("invalid JSON body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return oauth.TokenRequest{}, invalidRequest("invalid form body")
		}
		body = tokenRequestBody{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			RefreshToken: r.PostForm.Get("refresh_token"),
		}
	}

	if user, pass, ok := r.BasicAuth(); ok {
		id, err := url.QueryUnescape(user)
		if err != nil {
			return oauth.TokenRequest{}, invalidRequest("malformed client credentials")
		}
		secret, err := url.QueryUnescape(pass)
		if err != nil {
			return oauth.TokenRequest{}, invalidRequest("malformed client credentials")
		}
		if body.ClientID != "" && body.ClientID != id {
			return oauth.TokenRequest{}, invalidRequest("client_id does not match the authenticated client")
		}
		body.ClientID = id
		body.ClientSecret = secret
	}

	return oauth.TokenRequest{
		GrantType:    body.GrantType,
		Code:         body.Code,
		CodeVerifier: body.CodeVerifier,
		RedirectURI:  body.RedirectURI,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		RefreshToken: body.RefreshToken,
	}, nil
}

func invalidRequest(description string) *oauth.Error {
	return &oauth.Error{Kind: oauth.KindValidation, Code: oauth.CodeInvalidRequest, Description: description}
}

// ValidateHandler reports the claims of the bearer token
// GET /validate
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	payload, ok := PayloadFromContext(r.Context())
	if !ok {
		s.unauthorized(w, "missing bearer token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user_id":    payload.Subject,
		"client_id":  payload.ClientID,
		"scope":      payload.Scope,
		"expires_at": payload.ExpiresAt,
	})
}

// RevokeHandler accepts RFC 7009 revocation requests. Tokens are stateless,
// so there is nothing to revoke; the endpoint answers 200 for any token as
// the RFC requires for unknown ones.
// POST /revoke
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil || r.PostForm.Get("token") == "" {
		s.writeOAuthError(w, invalidRequest("token is required"))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}
