// Package auth owns the client-side session: the state machine every UI or
// CLI surface consumes, and the login, register, logout and refresh
// operations that move it between states.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultLogoutTimeout = 5 * time.Second

// Status is the session's position in its lifecycle.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"
	StatusBootstrapping   Status = "bootstrapping"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State is a snapshot of the session. Initialized turns true when the first
// bootstrap completes and never turns false again.
type State struct {
	Status      Status      `json:"status"`
	Initialized bool        `json:"initialized"`
	User        *users.User `json:"user,omitempty"`
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Backend is the set of backend calls a Session makes.
type Backend interface {
	Login(ctx context.Context, params oauthmodel.LoginParameters) (*oauthmodel.TokenResponse, error)
	Register(ctx context.Context, profile oauthmodel.RegisterRequest) (*oauthmodel.TokenResponse, error)
	WhoAmI(ctx context.Context) (*users.User, error)
	Logout(ctx context.Context, pair token.Pair) error
	ForgotPassword(ctx context.Context, in oauthmodel.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, in oauthmodel.ResetPasswordRequest) error
	HTTPClient() *http.Client
}

// RefreshCoordinator runs the shared refresh procedure and reports its failures.
type RefreshCoordinator interface {
	Refresh(ctx context.Context) error
	OnRefreshFailure(fn transport.RefreshFailureFunc)
}

// Session is the single owner of authentication state for one token store.
// Create it once at startup, call Bootstrap, and Close it on shutdown.
type Session struct {
	backend       Backend
	coordinator   RefreshCoordinator
	store         token.Store
	ttls          token.TTLs
	logger        zerolog.Logger
	metrics       *obs.Metrics
	logoutTimeout time.Duration

	mu          sync.RWMutex
	state       State
	watchers    map[int]func(State)
	nextWatcher int
	closed      bool

	bootMu   sync.Mutex
	bootDone chan struct{}
	bootErr  error

	// generation counts sign ins and sign outs. A bootstrap result only
	// applies if no such change happened while it ran. tokensMu orders
	// store writes that bump it against bootstrap's clear.
	tokensMu   sync.Mutex
	generation atomic.Uint64

	notifications sync.WaitGroup
}

type SessionOption func(*Session)

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithMetrics(metrics *obs.Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithLogoutTimeout bounds the background logout notification.
func WithLogoutTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// New creates a Session on top of an apiclient.Client sharing store.
func New(client *apiclient.Client, store token.Store, ttls token.TTLs, options ...SessionOption) (*Session, error) {
	if client == nil {
		return nil, errors.New("[auth.New] client is required")
	}
	return NewSession(client, client.Coordinator(), store, ttls, options...)
}

// NewSession creates a Session. coordinator must be the one guarding backend's
// protected calls so that refresh failures end the session.
func NewSession(
	backend Backend,
	coordinator RefreshCoordinator,
	store token.Store,
	ttls token.TTLs,
	options ...SessionOption,
) (*Session, error) {
	if backend == nil {
		return nil, errors.New("[auth.NewSession] backend is required")
	}
	if coordinator == nil {
		return nil, errors.New("[auth.NewSession] refresh coordinator is required")
	}
	if store == nil {
		return nil, errors.New("[auth.NewSession] token store is required")
	}

	s := &Session{
		backend:       backend,
		coordinator:   coordinator,
		store:         store,
		ttls:          ttls,
		logger:        log.Logger,
		logoutTimeout: defaultLogoutTimeout,
		state:         State{Status: StatusUninitialized},
		watchers:      make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "session").Logger()

	coordinator.OnRefreshFailure(func(err error) {
		s.logger.Info().Err(err).Msg("refresh failed, signing out")
		s.signedOut()
	})
	return s, nil
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Watch calls fn with every new state until the returned cancel func is
// called. fn runs synchronously on the goroutine that changed the state and
// must not call back into operations that change it.
func (s *Session) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
		})
	}
}

// Client returns an http.Client that attaches the session's access token and
// refreshes it on 401.
func (s *Session) Client() *http.Client {
	return s.backend.HTTPClient()
}

// Close waits for pending logout notifications, bounded by ctx, and stops
// notifying watchers.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.watchers = make(map[int]func(State))
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update applies change to the state and notifies watchers when it differs.
func (s *Session) update(change func(*State)) {
	s.mu.Lock()
	prev := s.state
	change(&s.state)
	next := s.state
	if sameState(prev, next) {
		s.mu.Unlock()
		return
	}
	watchers := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	if prev.Status != next.Status {
		s.metrics.Transition(string(next.Status))
		s.logger.Debug().Str("from", string(prev.Status)).Str("to", string(next.Status)).Msg("session state changed")
	}
	for _, fn := range watchers {
		fn(next)
	}
}

func (s *Session) signedIn(user *users.User) {
	s.generation.Add(1)
	s.update(func(st *State) {
		st.Status = StatusAuthenticated
		st.User = user
		st.Initialized = true
	})
}

// signedOut moves to Unauthenticated. During bootstrap Initialized is left
// for the bootstrap run to set.
func (s *Session) signedOut() {
	s.generation.Add(1)
	s.update(func(st *State) {
		st.Status = StatusUnauthenticated
		st.User = nil
	})
}

func sameState(a, b State) bool {
	return a.Status == b.Status && a.Initialized == b.Initialized && a.User == b.User
}
