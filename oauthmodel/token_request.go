package oauthmodel

// RefreshRequest is the body of the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest lets the backend revoke the refresh token. Sent best-effort.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}
