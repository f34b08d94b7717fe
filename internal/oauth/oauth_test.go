package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/mcpauth/internal/config"
	"github.com/andyleap/mcpauth/internal/models"
	"github.com/andyleap/mcpauth/internal/provider"
	"github.com/andyleap/mcpauth/internal/registry"
	"github.com/andyleap/mcpauth/internal/storage"
	"github.com/andyleap/mcpauth/internal/token"
)

const (
	testRedirectURI = "http://localhost:3000/callback"
	testSecret      = "0123456789abcdef0123456789abcdef"

	// RFC 7636 appendix B.
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

type fakeAdapter struct {
	profile *models.OAuthUserProfile
	err     error
	calls   atomic.Int32
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) BeginRedirect(state string) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeAdapter) HandleCallback(_ context.Context, r *http.Request) (*provider.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{
		Profile:     f.profile,
		AccessToken: "upstream",
		State:       r.URL.Query().Get("state"),
	}, nil
}

type testFlow struct {
	svc     *Service
	store   *storage.MemoryStorage
	clients *registry.Service
	adapter *fakeAdapter
	states  []FlowState
	mu      sync.Mutex
}

func (f *testFlow) seen() []FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FlowState(nil), f.states...)
}

func newTestFlow(t *testing.T, requirePKCE bool) *testFlow {
	t.Helper()

	opts := config.Options{
		Issuer:      "https://auth.example.com",
		JWTSecret:   testSecret,
		RequirePKCE: requirePKCE,
	}.WithDefaults()

	tokens, err := token.NewService(token.Options{
		Secret:                opts.JWTSecret,
		Issuer:                opts.Issuer,
		AccessTokenExpiresIn:  opts.AccessTokenExpiresIn,
		RefreshTokenExpiresIn: opts.RefreshTokenExpiresIn,
		UserTokenExpiresIn:    opts.CookieMaxAge,
	})
	require.NoError(t, err)

	f := &testFlow{
		store: storage.NewMemoryStorage(),
		adapter: &fakeAdapter{profile: &models.OAuthUserProfile{
			ID:       "42",
			Username: "octocat",
			Provider: "fake",
		}},
	}
	f.clients = registry.NewService(f.store, nil)
	f.svc = NewService(opts, f.clients, f.store, tokens, f.adapter, WithTransitionHook(func(s FlowState) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, s)
	}))
	return f
}

func (f *testFlow) register(t *testing.T, authMethod string) *models.Client {
	t.Helper()
	client, err := f.clients.RegisterClient(context.Background(), &models.ClientRegistration{
		ClientName:              "My Demo App",
		RedirectURIs:            []string{testRedirectURI},
		TokenEndpointAuthMethod: authMethod,
	})
	require.NoError(t, err)
	return client
}

// issueCode runs authorize and callback and returns the code from the final redirect.
func (f *testFlow) issueCode(t *testing.T, clientID, challenge, method string) string {
	t.Helper()
	ctx := context.Background()

	begin, err := f.svc.Begin(ctx, AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		State:               "xyz",
	})
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, CallbackInput{
		Request:     httptest.NewRequest(http.MethodGet, "/callback?code=upstream-code&state="+url.QueryEscape(begin.State), nil),
		SessionID:   begin.SessionID,
		StateCookie: begin.State,
	})
	require.NoError(t, err)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "xyz", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func requireOAuthError(t *testing.T, err error, kind ErrorKind, code string) *Error {
	t.Helper()
	require.Error(t, err)
	var oauthErr *Error
	require.True(t, errors.As(err, &oauthErr), "expected *oauth.Error, got %T", err)
	assert.Equal(t, kind, oauthErr.Kind)
	assert.Equal(t, code, oauthErr.Code)
	return oauthErr
}

func TestFlow_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)

	code := f.issueCode(t, client.ClientID, testChallenge, "S256")

	pair, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: testVerifier,
		RedirectURI:  testRedirectURI,
		ClientID:     client.ClientID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.EqualValues(t, 3600, pair.ExpiresIn)

	payload, err := f.svc.ValidateToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "octocat", payload.Subject)
	assert.Equal(t, client.ClientID, payload.ClientID)

	_, err = f.svc.ValidateToken(context.Background(), pair.RefreshToken)
	requireOAuthError(t, err, KindAuthentication, CodeInvalidToken)

	refreshed, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeRefreshToken,
		RefreshToken: pair.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	// Refresh tokens are not rotated; the original stays usable.
	_, err = f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeRefreshToken,
		RefreshToken: pair.RefreshToken,
	})
	require.NoError(t, err)

	assert.Equal(t, []FlowState{
		StateInitiated, StateProviderPending, StateCallbackVerified, StateCodeIssued,
		StateExchanged, StateExchanged, StateExchanged,
	}, f.seen())
}

func TestExchangeToken_CodeIsSingleUse(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)
	code := f.issueCode(t, client.ClientID, testChallenge, "S256")

	req := TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: testVerifier,
		ClientID:     client.ClientID,
	}
	_, err := f.svc.ExchangeToken(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.ExchangeToken(context.Background(), req)
	e := requireOAuthError(t, err, KindNotFound, CodeInvalidGrant)
	assert.Equal(t, "invalid authorization code", e.Description)
}

func TestExchangeToken_ConcurrentRedemption(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)
	code := f.issueCode(t, client.ClientID, testChallenge, "S256")

	const workers = 8
	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
				GrantType:    models.GrantTypeAuthorizationCode,
				Code:         code,
				CodeVerifier: testVerifier,
				ClientID:     client.ClientID,
			})
			if err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, success.Load())
}

func TestExchangeToken_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(req *TokenRequest)
		wantKind ErrorKind
		wantCode string
		wantDesc string
	}{
		{
			name:     "wrong verifier",
			mutate:   func(req *TokenRequest) { req.CodeVerifier = "wrong" },
			wantKind: KindAuthentication,
			wantCode: CodeInvalidGrant,
			wantDesc: "invalid code_verifier",
		},
		{
			name:     "missing verifier",
			mutate:   func(req *TokenRequest) { req.CodeVerifier = "" },
			wantKind: KindAuthentication,
			wantCode: CodeInvalidGrant,
			wantDesc: "invalid code_verifier",
		},
		{
			name:     "other client",
			mutate:   func(req *TokenRequest) { req.ClientID = "someone-else" },
			wantKind: KindValidation,
			wantCode: CodeInvalidGrant,
			wantDesc: "client ID mismatch",
		},
		{
			name:     "redirect mismatch",
			mutate:   func(req *TokenRequest) { req.RedirectURI = "http://localhost:3000/other" },
			wantKind: KindValidation,
			wantCode: CodeInvalidGrant,
			wantDesc: "redirect_uri mismatch",
		},
		{
			name:     "unknown code",
			mutate:   func(req *TokenRequest) { req.Code = "nope" },
			wantKind: KindNotFound,
			wantCode: CodeInvalidGrant,
			wantDesc: "invalid authorization code",
		},
		{
			name:     "unsupported grant",
			mutate:   func(req *TokenRequest) { req.GrantType = "password" },
			wantKind: KindValidation,
			wantCode: CodeUnsupportedGrantType,
			wantDesc: "unsupported grant_type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newTestFlow(t, true)
			client := f.register(t, models.AuthMethodNone)
			code := f.issueCode(t, client.ClientID, testChallenge, "S256")

			req := TokenRequest{
				GrantType:    models.GrantTypeAuthorizationCode,
				Code:         code,
				CodeVerifier: testVerifier,
				RedirectURI:  testRedirectURI,
				ClientID:     client.ClientID,
			}
			tt.mutate(&req)

			_, err := f.svc.ExchangeToken(context.Background(), req)
			e := requireOAuthError(t, err, tt.wantKind, tt.wantCode)
			assert.Equal(t, tt.wantDesc, e.Description)
			assert.Equal(t, StateRejected, f.seen()[len(f.seen())-1])
		})
	}
}

func TestExchangeToken_FailedVerifierKeepsCode(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)
	code := f.issueCode(t, client.ClientID, testChallenge, "S256")

	req := TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: "wrong",
		ClientID:     client.ClientID,
	}
	_, err := f.svc.ExchangeToken(context.Background(), req)
	require.Error(t, err)

	req.CodeVerifier = testVerifier
	_, err = f.svc.ExchangeToken(context.Background(), req)
	assert.NoError(t, err)
}

func TestExchangeToken_PlainPKCE(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)

	// An omitted method defaults to plain.
	code := f.issueCode(t, client.ClientID, "plain-challenge-value", "")
	_, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: "plain-challenge-value",
		ClientID:     client.ClientID,
	})
	assert.NoError(t, err)
}

func TestExchangeToken_ConfidentialClient(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, false)
	client := f.register(t, models.AuthMethodClientSecretBasic)
	code := f.issueCode(t, client.ClientID, "", "")

	req := TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         code,
		ClientID:     client.ClientID,
		ClientSecret: "wrong",
	}
	_, err := f.svc.ExchangeToken(context.Background(), req)
	requireOAuthError(t, err, KindAuthentication, CodeInvalidClient)

	req.ClientSecret = client.ClientSecret
	_, err = f.svc.ExchangeToken(context.Background(), req)
	assert.NoError(t, err)
}

func TestExchangeToken_ExpiredCode(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)

	// Bypass lazy expiry in storage by checking against a clock that has
	// moved on after the read.
	require.NoError(t, f.store.StoreAuthCode(context.Background(), &models.AuthorizationCode{
		Code:                "c1",
		UserID:              "octocat",
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       testChallenge,
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(time.Minute),
	}))
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeAuthorizationCode,
		Code:         "c1",
		CodeVerifier: testVerifier,
		ClientID:     client.ClientID,
	})
	e := requireOAuthError(t, err, KindValidation, CodeInvalidGrant)
	assert.Equal(t, "authorization code has expired", e.Description)
	assert.Contains(t, f.seen(), StateExpired)

	_, err = f.store.GetAuthCode(context.Background(), "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExchangeToken_BadRefreshToken(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)

	_, err := f.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:    models.GrantTypeRefreshToken,
		RefreshToken: "garbage",
	})
	e := requireOAuthError(t, err, KindAuthentication, CodeInvalidGrant)
	assert.Equal(t, "failed to refresh token", e.Description)
}

func TestBegin_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pkce     bool
		req      func(clientID string) AuthorizeRequest
		wantCode string
	}{
		{
			name: "response type",
			pkce: true,
			req: func(id string) AuthorizeRequest {
				return AuthorizeRequest{ResponseType: "token", ClientID: id, RedirectURI: testRedirectURI, CodeChallenge: testChallenge}
			},
			wantCode: CodeUnsupportedResponseType,
		},
		{
			name: "unknown client",
			pkce: true,
			req: func(string) AuthorizeRequest {
				return AuthorizeRequest{ResponseType: "code", ClientID: "ghost", RedirectURI: testRedirectURI, CodeChallenge: testChallenge}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "unregistered redirect",
			pkce: true,
			req: func(id string) AuthorizeRequest {
				return AuthorizeRequest{ResponseType: "code", ClientID: id, RedirectURI: "http://evil.example.com/cb", CodeChallenge: testChallenge}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "missing challenge",
			pkce: true,
			req: func(id string) AuthorizeRequest {
				return AuthorizeRequest{ResponseType: "code", ClientID: id, RedirectURI: testRedirectURI}
			},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "unsupported method",
			pkce: false,
			req: func(id string) AuthorizeRequest {
				return AuthorizeRequest{ResponseType: "code", ClientID: id, RedirectURI: testRedirectURI, CodeChallenge: "x", CodeChallengeMethod: "S512"}
			},
			wantCode: CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newTestFlow(t, tt.pkce)
			client := f.register(t, models.AuthMethodNone)

			_, err := f.svc.Begin(context.Background(), tt.req(client.ClientID))
			requireOAuthError(t, err, KindValidation, tt.wantCode)
		})
	}
}

func TestBegin_StoresSession(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)

	res, err := f.svc.Begin(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       testChallenge,
		CodeChallengeMethod: "S256",
		State:               "caller-state",
		Resource:            "https://mcp.example.com",
		Scope:               "read",
	})
	require.NoError(t, err)
	assert.Contains(t, res.RedirectURL, "state="+url.QueryEscape(res.State))
	assert.NotEqual(t, res.SessionID, res.State)

	session, err := f.store.GetOAuthSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.State, session.State)
	assert.Equal(t, "caller-state", session.OAuthState)
	assert.Equal(t, "https://mcp.example.com", session.Resource)
	assert.Equal(t, "read", session.Scope)
}

func TestHandleCallback_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		sessionID    func(real string) string
		stateCookie  func(real string) string
		queryState   func(real string) string
		adapterErr   error
		wantKind     ErrorKind
		wantUpstream bool
	}{
		{
			name:        "missing session",
			sessionID:   func(string) string { return "" },
			stateCookie: func(s string) string { return s },
			queryState:  func(s string) string { return s },
			wantKind:    KindNotFound,
		},
		{
			name:        "unknown session",
			sessionID:   func(string) string { return "forged" },
			stateCookie: func(s string) string { return s },
			queryState:  func(s string) string { return s },
			wantKind:    KindNotFound,
		},
		{
			name:        "state cookie mismatch",
			sessionID:   func(s string) string { return s },
			stateCookie: func(string) string { return "attacker" },
			queryState:  func(s string) string { return s },
			wantKind:    KindAuthentication,
		},
		{
			name:         "provider state mismatch",
			sessionID:    func(s string) string { return s },
			stateCookie:  func(s string) string { return s },
			queryState:   func(string) string { return "attacker" },
			wantKind:     KindAuthentication,
			wantUpstream: true,
		},
		{
			name:         "provider failure",
			sessionID:    func(s string) string { return s },
			stateCookie:  func(s string) string { return s },
			queryState:   func(s string) string { return s },
			adapterErr:   provider.ErrProviderDenied,
			wantKind:     KindAuthentication,
			wantUpstream: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newTestFlow(t, true)
			f.adapter.err = tt.adapterErr
			client := f.register(t, models.AuthMethodNone)

			begin, err := f.svc.Begin(context.Background(), AuthorizeRequest{
				ResponseType:  "code",
				ClientID:      client.ClientID,
				RedirectURI:   testRedirectURI,
				CodeChallenge: testChallenge,
			})
			require.NoError(t, err)

			_, err = f.svc.HandleCallback(context.Background(), CallbackInput{
				Request:     httptest.NewRequest(http.MethodGet, "/callback?code=c&state="+url.QueryEscape(tt.queryState(begin.State)), nil),
				SessionID:   tt.sessionID(begin.SessionID),
				StateCookie: tt.stateCookie(begin.State),
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, AsError(err).Kind)
			assert.Equal(t, http.StatusBadRequest, AsError(err).StatusCode())

			// The provider code is only redeemed once the session and cookie bind.
			if tt.wantUpstream {
				assert.EqualValues(t, 1, f.adapter.calls.Load())
			} else {
				assert.Zero(t, f.adapter.calls.Load())
			}
		})
	}
}

func TestHandleCallback_SessionIsSingleUse(t *testing.T) {
	t.Parallel()
	f := newTestFlow(t, true)
	client := f.register(t, models.AuthMethodNone)

	begin, err := f.svc.Begin(context.Background(), AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ClientID,
		RedirectURI:   testRedirectURI,
		CodeChallenge: testChallenge,
	})
	require.NoError(t, err)

	in := CallbackInput{
		Request:     httptest.NewRequest(http.MethodGet, "/callback?code=c&state="+url.QueryEscape(begin.State), nil),
		SessionID:   begin.SessionID,
		StateCookie: begin.State,
	}
	res, err := f.svc.HandleCallback(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, res.UserToken)
	assert.Equal(t, "octocat", res.Profile.Username)

	_, err = f.svc.HandleCallback(context.Background(), in)
	requireOAuthError(t, err, KindNotFound, CodeInvalidRequest)
}

func TestAsError(t *testing.T) {
	t.Parallel()

	e := AsError(errors.New("disk on fire"))
	assert.Equal(t, KindStorage, e.Kind)
	assert.Equal(t, CodeServerError, e.Code)
	assert.Equal(t, "internal server error", e.Description)
	assert.Equal(t, http.StatusInternalServerError, e.StatusCode())
}
