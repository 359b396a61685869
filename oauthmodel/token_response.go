package oauthmodel

import "github.com/jrsteele09/go-auth-client/users"

// TokenResponse is returned by the login, register and refresh endpoints.
type TokenResponse struct {
	// AccessToken is the opaque bearer credential for API calls.
	// Usage: Authorization: Bearer <access_token>
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new pair at the refresh endpoint only.
	RefreshToken string `json:"refresh_token"`

	// TokenType is "bearer" when present.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds, when the backend sends it.
	ExpiresIn int `json:"expires_in,omitempty"`

	// User is sent by some login/register responses. The client still calls
	// the "who am I" endpoint to populate the session.
	User *users.User `json:"user,omitempty"`
}

// Complete reports whether both halves of the pair are present.
func (t *TokenResponse) Complete() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != ""
}
