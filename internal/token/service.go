// Package token signs, validates and refreshes the JWTs issued by the
// authorization server. A Service holds no state besides its secret and
// lifetimes, so one instance is shared by every request.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/andyleap/mcpauth/internal/models"
)

// ErrInvalidToken is returned for every token that must not be trusted:
// bad signature, wrong algorithm, expired, malformed or of the wrong type.
var ErrInvalidToken = errors.New("invalid token")

const minSecretLength = 32

// Options configures a Service.
type Options struct {
	Secret                string
	Issuer                string
	AccessTokenExpiresIn  string
	RefreshTokenExpiresIn string
	UserTokenExpiresIn    time.Duration
}

// Service issues and verifies HS256 tokens.
type Service struct {
	secret        []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	userTTL       time.Duration
	now           func() time.Time
	signingMethod jwt.SigningMethod
}

type claims struct {
	ClientID    string           `json:"client_id,omitempty"`
	Scope       string           `json:"scope"`
	Type        models.TokenType `json:"type"`
	Username    string           `json:"username,omitempty"`
	Email       string           `json:"email,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

func NewService(opts Options) (*Service, error) {
	if len(opts.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	accessTTL, err := ParseDuration(opts.AccessTokenExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token expiry: %w", err)
	}
	refreshTTL, err := ParseDuration(opts.RefreshTokenExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse refresh token expiry: %w", err)
	}
	if opts.UserTokenExpiresIn <= 0 {
		return nil, errors.New("user token expiry must be positive")
	}

	return &Service{
		secret:        []byte(opts.Secret),
		issuer:        opts.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		userTTL:       opts.UserTokenExpiresIn,
		now:           time.Now,
		signingMethod: jwt.SigningMethodHS256,
	}, nil
}

// AccessTokenLifetime is the lifetime used for access tokens and reported as expires_in.
func (s *Service) AccessTokenLifetime() time.Duration {
	return s.accessTTL
}

// GenerateTokenPair signs an access and a refresh token for the same grant.
// Both carry the same subject, client and scope, and a shared correlation id
// as the suffix of their jti.
func (s *Service) GenerateTokenPair(userID, clientID, scope string) (*models.TokenPair, error) {
	correlation := uuid.NewString()
	now := s.now().Truncate(time.Second)

	access, err := s.sign(claims{
		ClientID: clientID,
		Scope:    scope,
		Type:     models.TokenTypeAccess,
	}, userID, jti(models.TokenTypeAccess, correlation), now, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, err := s.sign(claims{
		ClientID: clientID,
		Scope:    scope,
		Type:     models.TokenTypeRefresh,
	}, userID, jti(models.TokenTypeRefresh, correlation), now, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
		Scope:        scope,
	}, nil
}

// GenerateUserToken signs the browser session token stored in the auth_token cookie.
func (s *Service) GenerateUserToken(userID string, profile *models.OAuthUserProfile) (string, error) {
	c := claims{Type: models.TokenTypeUser}
	if profile != nil {
		c.Username = profile.Username
		c.Email = profile.Email
		c.DisplayName = profile.DisplayName
		c.AvatarURL = profile.AvatarURL
	}
	token, err := s.sign(c, userID, jti(models.TokenTypeUser, uuid.NewString()), s.now().Truncate(time.Second), s.userTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies signature, algorithm and expiry of any token this
// service signed and returns its payload.
func (s *Service) ValidateToken(tokenString string) (*models.JWTPayload, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.Type == "" {
		return nil, fmt.Errorf("%w: missing sub or type claim", ErrInvalidToken)
	}

	return payloadFromClaims(&c), nil
}

// ValidateAccessToken accepts only access tokens; this is what the resource guard uses.
func (s *Service) ValidateAccessToken(tokenString string) (*models.JWTPayload, error) {
	return s.validateType(tokenString, models.TokenTypeAccess)
}

// ValidateUserToken accepts only browser session tokens.
func (s *Service) ValidateUserToken(tokenString string) (*models.JWTPayload, error) {
	return s.validateType(tokenString, models.TokenTypeUser)
}

// RefreshAccessToken issues a new pair for the subject, client and scope of a
// valid refresh token. The presented refresh token stays valid until it expires.
func (s *Service) RefreshAccessToken(refreshToken string) (*models.TokenPair, error) {
	payload, err := s.validateType(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return s.GenerateTokenPair(payload.Subject, payload.ClientID, payload.Scope)
}

func (s *Service) validateType(tokenString string, want models.TokenType) (*models.JWTPayload, error) {
	payload, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if payload.Type != want {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrInvalidToken, want, payload.Type)
	}
	return payload, nil
}

func (s *Service) sign(c claims, subject, id string, now time.Time, ttl time.Duration) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(s.signingMethod, c).SignedString(s.secret)
}

func payloadFromClaims(c *claims) *models.JWTPayload {
	p := &models.JWTPayload{
		Subject:     c.Subject,
		ClientID:    c.ClientID,
		Scope:       c.Scope,
		Type:        c.Type,
		JTI:         c.ID,
		Username:    c.Username,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		AvatarURL:   c.AvatarURL,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Unix()
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Unix()
	}
	return p
}

func jti(t models.TokenType, correlation string) string {
	return string(t) + "_" + correlation
}
