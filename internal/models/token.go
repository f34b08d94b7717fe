package models

// TokenType distinguishes the three kinds of JWT the server signs.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeUser    TokenType = "user"
)

// TokenPair is the token endpoint response body
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// JWTPayload is the decoded claim set of a token signed by this server.
// IssuedAt and ExpiresAt are unix seconds.
type JWTPayload struct {
	Subject   string    `json:"sub"`
	ClientID  string    `json:"client_id,omitempty"`
	Scope     string    `json:"scope"`
	Type      TokenType `json:"type"`
	JTI       string    `json:"jti"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`

	// Only set on user tokens.
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
