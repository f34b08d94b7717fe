// Package oauth is the authorization code flow: it starts the browser
// round-trip through the upstream identity provider, turns the callback into
// a single-use authorization code and exchanges codes and refresh tokens for
// token pairs.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/andyleap/mcpauth/internal/config"
	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/provider"
	"github.com/andyleap/mcpauth/internal/registry"
	"github.com/andyleap/mcpauth/internal/storage"
	"github.com/andyleap/mcpauth/internal/token"
)

const randomTokenBytes = 32

// FlowStore is the part of storage the flow mutates.
type FlowStore interface {
	storage.AuthCodeStore
	storage.SessionStore
}

// AuthorizeRequest carries the /authorize query parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Resource            string
	Scope               string
}

// BeginResult tells the HTTP layer where to send the browser and which
// values to set in the oauth_session and oauth_state cookies.
type BeginResult struct {
	RedirectURL string
	SessionID   string
	State       string
	ExpiresIn   time.Duration
}

// CallbackInput is the provider callback request plus the two transient cookies.
type CallbackInput struct {
	Request     *http.Request
	SessionID   string
	StateCookie string
}

// CallbackResult is the redirect back to the client and the UI session token.
type CallbackResult struct {
	RedirectURL string
	UserToken   string
	Profile     *models.OAuthUserProfile
}

// TokenRequest is a /token request body, after client credentials from
// HTTP Basic auth have been merged in.
type TokenRequest struct {
	GrantType    string
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type Service struct {
	opts     config.Options
	clients  *registry.Service
	store    FlowStore
	tokens   *token.Service
	adapter  provider.Adapter
	logger   *slog.Logger
	onChange TransitionHook
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTransitionHook(hook TransitionHook) Option {
	return func(s *Service) {
		s.onChange = hook
	}
}

func NewService(opts config.Options, clients *registry.Service, store FlowStore, tokens *token.Service, adapter provider.Adapter, options ...Option) *Service {
	s := &Service{
		opts:    opts,
		clients: clients,
		store:   store,
		tokens:  tokens,
		adapter: adapter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Begin validates an authorization request, records the OAuth session and
// returns the provider redirect.
func (s *Service) Begin(ctx context.Context, req AuthorizeRequest) (*BeginResult, error) {
	s.transition(StateInitiated, "client_id", req.ClientID)

	if req.ResponseType != models.ResponseTypeCode {
		return nil, s.reject(validationError(CodeUnsupportedResponseType, "unsupported response type"))
	}
	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, s.reject(validationError(CodeInvalidRequest, "invalid client or redirect_uri"))
	}
	ok, err := s.clients.ValidateRedirectURI(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to validate redirect uri: %w", err)))
	}
	if !ok {
		return nil, s.reject(validationError(CodeInvalidRequest, "invalid client or redirect_uri"))
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge == "" {
		if s.opts.RequirePKCE {
			return nil, s.reject(validationError(CodeInvalidRequest, "code_challenge is required"))
		}
		method = ""
	} else {
		if method == "" {
			method = models.CodeChallengeMethodPlain
		}
		if !supportedChallengeMethod(method) {
			return nil, s.reject(validationError(CodeInvalidRequest, "unsupported code_challenge_method"))
		}
	}

	sessionID, err := randomToken()
	if err != nil {
		return nil, s.reject(storageError(err))
	}
	state, err := randomToken()
	if err != nil {
		return nil, s.reject(storageError(err))
	}

	session := &models.OAuthSession{
		SessionID:           sessionID,
		State:               state,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		OAuthState:          req.State,
		Resource:            req.Resource,
		Scope:               req.Scope,
		ExpiresAt:           s.now().Add(s.opts.OAuthSessionExpiresIn),
	}
	if err := s.store.StoreOAuthSession(ctx, session); err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to store oauth session: %w", err)))
	}

	redirect, err := s.adapter.BeginRedirect(state)
	if err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to build provider redirect: %w", err)))
	}

	s.transition(StateProviderPending, "client_id", req.ClientID, "provider", s.adapter.Name())

	return &BeginResult{
		RedirectURL: redirect,
		SessionID:   sessionID,
		State:       state,
		ExpiresIn:   s.opts.OAuthSessionExpiresIn,
	}, nil
}

// HandleCallback binds the provider callback to its OAuth session and issues
// an authorization code. The session and CSRF state are checked before the
// provider code is redeemed, so a forged callback never reaches the provider.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if in.SessionID == "" {
		return nil, s.reject(notFoundError(CodeInvalidRequest, "missing or invalid OAuth session", nil))
	}
	session, err := s.store.GetOAuthSession(ctx, in.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, s.reject(notFoundError(CodeInvalidRequest, "missing or invalid OAuth session", err))
	}
	if err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to load oauth session: %w", err)))
	}

	if in.StateCookie == "" || !constantTimeEqual(in.StateCookie, session.State) {
		return nil, s.reject(authenticationError(CodeInvalidRequest, "invalid state parameter", nil))
	}

	result, err := s.adapter.HandleCallback(ctx, in.Request)
	if err != nil {
		return nil, s.reject(authenticationError(CodeAccessDenied, "authentication with the identity provider failed", err))
	}
	if result == nil || result.Profile == nil || result.Profile.Username == "" {
		return nil, s.reject(authenticationError(CodeAccessDenied, "authentication with the identity provider failed", provider.ErrNoUser))
	}
	if result.State != "" && !constantTimeEqual(result.State, session.State) {
		return nil, s.reject(authenticationError(CodeInvalidRequest, "invalid state parameter", nil))
	}

	s.transition(StateCallbackVerified, "client_id", session.ClientID, "provider", s.adapter.Name())

	profile := result.Profile
	userToken, err := s.tokens.GenerateUserToken(profile.Username, profile)
	if err != nil {
		return nil, s.reject(storageError(err))
	}

	code, err := randomToken()
	if err != nil {
		return nil, s.reject(storageError(err))
	}
	authCode := &models.AuthorizationCode{
		Code:                code,
		UserID:              profile.Username,
		ClientID:            session.ClientID,
		RedirectURI:         session.RedirectURI,
		CodeChallenge:       session.CodeChallenge,
		CodeChallengeMethod: session.CodeChallengeMethod,
		Resource:            session.Resource,
		Scope:               session.Scope,
		ExpiresAt:           s.now().Add(s.opts.AuthCodeExpiresIn),
	}
	if err := s.store.StoreAuthCode(ctx, authCode); err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to store authorization code: %w", err)))
	}

	if err := s.store.RemoveOAuthSession(ctx, session.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Failed to remove OAuth session", "error", err)
	}

	s.transition(StateCodeIssued, "client_id", session.ClientID, "user_id", profile.Username)

	return &CallbackResult{
		RedirectURL: BuildRedirectURL(session.RedirectURI, code, session.OAuthState),
		UserToken:   userToken,
		Profile:     profile,
	}, nil
}

// ExchangeToken serves the token endpoint for both supported grants.
func (s *Service) ExchangeToken(ctx context.Context, req TokenRequest) (*models.TokenPair, error) {
	switch req.GrantType {
	case models.GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case models.GrantTypeRefreshToken:
		pair, err := s.tokens.RefreshAccessToken(req.RefreshToken)
		if err != nil {
			return nil, s.reject(authenticationError(CodeInvalidGrant, "failed to refresh token", err))
		}
		s.transition(StateExchanged, "grant_type", req.GrantType)
		return pair, nil
	default:
		return nil, s.reject(validationError(CodeUnsupportedGrantType, "unsupported grant_type"))
	}
}

func (s *Service) exchangeCode(ctx context.Context, req TokenRequest) (*models.TokenPair, error) {
	if req.Code == "" {
		return nil, s.reject(notFoundError(CodeInvalidGrant, "invalid authorization code", nil))
	}

	code, err := s.store.GetAuthCode(ctx, req.Code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, s.reject(notFoundError(CodeInvalidGrant, "invalid authorization code", err))
	}
	if err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to load authorization code: %w", err)))
	}

	// Storage already drops codes that were expired when read; this covers
	// backends whose clock check and ours disagree by a few milliseconds.
	if code.IsExpired(s.now()) {
		if err := s.store.RemoveAuthCode(ctx, code.Code); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to remove expired authorization code", "error", err)
		}
		s.transition(StateExpired, "client_id", code.ClientID)
		return nil, &Error{Kind: KindValidation, Code: CodeInvalidGrant, Description: "authorization code has expired"}
	}

	if req.ClientID != code.ClientID {
		return nil, s.reject(validationError(CodeInvalidGrant, "client ID mismatch"))
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return nil, s.reject(validationError(CodeInvalidGrant, "redirect_uri mismatch"))
	}

	client, err := s.clients.GetClient(ctx, code.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, s.reject(notFoundError(CodeInvalidClient, "unknown client", err))
	}
	if err != nil {
		return nil, s.reject(storageError(fmt.Errorf("failed to load client: %w", err)))
	}
	if err := s.clients.AuthenticateClient(client, req.ClientSecret); err != nil {
		return nil, s.reject(authenticationError(CodeInvalidClient, "client authentication failed", err))
	}

	if code.CodeChallenge != "" && !VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
		return nil, s.reject(authenticationError(CodeInvalidGrant, "invalid code_verifier", nil))
	}

	// Removal is the redemption: of two concurrent exchanges only one
	// removes the row.
	if err := s.store.RemoveAuthCode(ctx, code.Code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.reject(notFoundError(CodeInvalidGrant, "invalid authorization code", err))
		}
		return nil, s.reject(storageError(fmt.Errorf("failed to remove authorization code: %w", err)))
	}

	pair, err := s.tokens.GenerateTokenPair(code.UserID, code.ClientID, code.Scope)
	if err != nil {
		return nil, s.reject(storageError(err))
	}

	s.transition(StateExchanged, "grant_type", req.GrantType, "client_id", code.ClientID, "user_id", code.UserID)
	return pair, nil
}

// ValidateToken is the bearer guard's check: only access tokens pass.
func (s *Service) ValidateToken(ctx context.Context, bearer string) (*models.JWTPayload, error) {
	payload, err := s.tokens.ValidateAccessToken(bearer)
	if err != nil {
		return nil, authenticationError(CodeInvalidToken, "invalid or expired token", err)
	}
	return payload, nil
}

func (s *Service) transition(state FlowState, attrs ...any) {
	s.logger.Info("OAuth flow transition", append([]any{"flow_state", state}, attrs...)...)
	if s.onChange != nil {
		s.onChange(state)
	}
}

func (s *Service) reject(e *Error) *Error {
	attrs := []any{"flow_state", StateRejected, "kind", e.Kind.String(), "error_code", e.Code, "reason", e.Description}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	if e.Kind == KindStorage {
		s.logger.Error("OAuth flow failed", attrs...)
	} else {
		s.logger.Info("OAuth flow rejected", attrs...)
	}
	if s.onChange != nil {
		s.onChange(StateRejected)
	}
	return e
}

// BuildRedirectURL appends code and, when present, state to redirectURI.
func BuildRedirectURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func randomToken() (string, error) {
	b := make([]byte, randomTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
