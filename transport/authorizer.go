// Package transport holds the request pipeline: an Authorizer that attaches
// the stored access token and a Coordinator that turns a 401 into at most one
// shared refresh and one retry per call.
package transport

import (
	"errors"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var _ http.RoundTripper = (*Authorizer)(nil)

// Authorizer attaches the stored access token as a bearer credential. It
// never fails: with no token the request goes out unauthenticated.
type Authorizer struct {
	store  token.Store
	next   http.RoundTripper
	logger zerolog.Logger
}

type AuthorizerOption func(*Authorizer)

func WithAuthorizerLogger(logger zerolog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// NewAuthorizer wraps next, which defaults to http.DefaultTransport.
func NewAuthorizer(store token.Store, next http.RoundTripper, options ...AuthorizerOption) *Authorizer {
	if next == nil {
		next = http.DefaultTransport
	}
	a := &Authorizer{
		store:  store,
		next:   next,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "authorizer").Logger()
	return a
}

// Authorize returns a copy of req carrying the current access token and the
// token it attached, "" when none was available. req itself is not modified.
func (a *Authorizer) Authorize(req *http.Request) (*http.Request, string) {
	out := req.Clone(req.Context())
	accessToken, err := a.store.Get(req.Context(), token.Access)
	if err != nil {
		if !errors.Is(err, autherrors.ErrNotFound) {
			a.logger.Debug().Err(err).Msg("access token unavailable, sending unauthenticated")
		}
		return out, ""
	}
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(out)
	return out, accessToken
}

func (a *Authorizer) RoundTrip(req *http.Request) (*http.Response, error) {
	out, _ := a.Authorize(req)
	return a.next.RoundTrip(out)
}
