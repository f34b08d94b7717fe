package models

// OAuthUserProfile is the provider-agnostic user produced by a provider adapter
type OAuthUserProfile struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	Provider    string         `json:"provider"`
	Raw         map[string]any `json:"raw,omitempty"`
}
