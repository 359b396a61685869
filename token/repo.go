package token

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Kind selects one half of the credential pair.
type Kind string

const (
	Access  Kind = "access_token"
	Refresh Kind = "refresh_token"
)

// Pair is an access/refresh token pair. Both values are opaque to the client.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// OAuth2Token adapts the access half for oauth2 consumers.
func (p Pair) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
}

// TTLs are the independent lifetimes of each half of a Pair.
type TTLs struct {
	Access  time.Duration
	Refresh time.Duration
}

// Entry is one persisted token with its own expiry.
type Entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the entry holds a value that has not expired at now.
func (e Entry) Live(now time.Time) bool {
	return e.Value != "" && (e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt))
}

// NewEntries builds the access and refresh entries for a write at now.
func NewEntries(pair Pair, ttls TTLs, now time.Time) (access Entry, refresh Entry) {
	access = Entry{Value: pair.AccessToken}
	if ttls.Access > 0 {
		access.ExpiresAt = now.Add(ttls.Access)
	}
	refresh = Entry{Value: pair.RefreshToken}
	if ttls.Refresh > 0 {
		refresh.ExpiresAt = now.Add(ttls.Refresh)
	}
	return access, refresh
}

// Store persists the credential pair. It is the only component that touches
// raw storage. Implementations must be safe for concurrent use.
//
// Get returns errors.ErrNotFound when the token is absent or expired.
// Set writes both tokens or neither; an incomplete pair is rejected.
// Clear removes both tokens and does not fail when they are already absent.
type Store interface {
	Get(ctx context.Context, kind Kind) (string, error)
	Set(ctx context.Context, pair Pair, ttls TTLs) error
	Clear(ctx context.Context) error
}
