// Package gate decides what a protected route shows for a session state and
// provides the HTTP middleware that applies that decision.
package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/users"
)

// Decision is what a protected route should do for the current state.
type Decision int

const (
	// Loading means the session has not finished bootstrapping.
	Loading Decision = iota
	// Redirect sends the visitor to the login surface.
	Redirect
	// Render shows the protected content.
	Render
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	}
	return "unknown"
}

// Decide never redirects before the session is initialized, whatever the status says.
func Decide(state auth.State) Decision {
	if !state.Initialized {
		return Loading
	}
	if state.Status != auth.StatusAuthenticated {
		return Redirect
	}
	return Render
}

// StateSource is anything that can report the current session state.
type StateSource interface {
	State() auth.State
}

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyUser stores the signed-in *users.User
const ContextKeyUser ContextKey = "user"

// UserFromContext returns the user stored by RequireSession.
func UserFromContext(ctx context.Context) (*users.User, bool) {
	user, ok := ctx.Value(ContextKeyUser).(*users.User)
	return user, ok && user != nil
}

type options struct {
	loginPath  string
	nextParam  string
	retryAfter string
}

type Option func(*options)

// WithLoginPath sets where Redirect sends the visitor. Defaults to /login.
func WithLoginPath(path string) Option {
	return func(o *options) {
		o.loginPath = path
	}
}

// WithNextParam sets the query parameter carrying the original URL. Defaults to next.
func WithNextParam(name string) Option {
	return func(o *options) {
		o.nextParam = name
	}
}

// RequireSession guards a route with Decide:
//   - Loading: 503 with Retry-After so clients poll instead of redirecting early
//   - Redirect: 303 to the login path with the original URL in next=
//   - Render: the handler runs with the user in the request context
func RequireSession(src StateSource, opts ...Option) func(http.HandlerFunc) http.HandlerFunc {
	o := options{loginPath: "/login", nextParam: "next", retryAfter: "1"}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			state := src.State()
			switch Decide(state) {
			case Loading:
				writeLoading(w, r, o.retryAfter)
			case Redirect:
				http.Redirect(w, r, LoginURL(o.loginPath, o.nextParam, r.URL.RequestURI()), http.StatusSeeOther)
			case Render:
				ctx := context.WithValue(r.Context(), ContextKeyUser, state.User)
				next(w, r.WithContext(ctx))
			}
		}
	}
}

// LoginURL builds loginPath?param=next.
func LoginURL(loginPath, param, next string) string {
	if next == "" {
		return loginPath
	}
	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + url.Values{param: {next}}.Encode()
}

// SafeNext returns next when it is a local path, fallback otherwise, so a
// next= parameter cannot redirect off site.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

func writeLoading(w http.ResponseWriter, r *http.Request, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("Cache-Control", "no-store")
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`<!doctype html><html><head><meta http-equiv="refresh" content="` + retryAfter + `"></head><body><p>Loading&hellip;</p></body></html>`))
}
