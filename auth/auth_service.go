package auth

import (
	"context"
	"errors"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

// Bootstrap resolves the initial state from stored credentials. The first
// call starts the single run; every call, concurrent or later, waits for it
// and returns its result. The run is detached from ctx so an impatient
// caller cannot leave the session half initialized.
func (s *Session) Bootstrap(ctx context.Context) error {
	if s.isClosed() {
		return SessionClosedErr
	}

	s.bootMu.Lock()
	if s.bootDone == nil {
		s.bootDone = make(chan struct{})
		done := s.bootDone
		runCtx := context.WithoutCancel(ctx)
		go func() {
			s.bootErr = s.bootstrap(runCtx)
			close(done)
		}()
	}
	done := s.bootDone
	s.bootMu.Unlock()

	select {
	case <-done:
		return s.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) bootstrap(ctx context.Context) (err error) {
	ctx, span := obs.StartSpan(ctx, "auth.bootstrap")
	defer func() { obs.EndSpan(span, err) }()

	gen := s.generation.Load()

	s.update(func(st *State) {
		if st.Status == StatusUninitialized {
			st.Status = StatusBootstrapping
		}
	})

	if _, getErr := s.store.Get(ctx, token.Access); getErr != nil {
		s.logger.Debug().Msg("no stored access token")
		s.finishBootstrap(gen, nil)
		return nil
	}

	user, err := s.backend.WhoAmI(ctx)
	if err != nil {
		if s.clearTokensAt(ctx, gen) {
			s.logger.Info().Err(err).Msg("stored credentials rejected, clearing")
		} else {
			s.logger.Debug().Err(err).Msg("stored credentials rejected after the session changed, keeping new credentials")
		}
		s.finishBootstrap(gen, nil)
		return err
	}
	s.finishBootstrap(gen, user)
	return nil
}

// finishBootstrap sets the outcome and Initialized in one transition. When a
// sign in or sign out happened since gen, that newer outcome stands and only
// Initialized is set.
func (s *Session) finishBootstrap(gen uint64, user *users.User) {
	s.update(func(st *State) {
		st.Initialized = true
		if s.generation.Load() != gen {
			if st.Status == StatusBootstrapping {
				st.Status = StatusUnauthenticated
			}
			return
		}
		if user != nil {
			st.Status = StatusAuthenticated
			st.User = user
			return
		}
		st.Status = StatusUnauthenticated
		st.User = nil
	})
}

// Login exchanges credentials for tokens, stores them, then loads the user.
// On any failure the session ends up Unauthenticated with no stored tokens.
func (s *Session) Login(ctx context.Context, email, password string) (user *users.User, err error) {
	const op = "Login"
	ctx, span := obs.StartSpan(ctx, "auth.login")
	defer func() { obs.EndSpan(span, err) }()

	params := oauthmodel.LoginParameters{Email: email, Password: password}
	if err := validateLogin(op, params); err != nil {
		return nil, s.failSignIn(ctx, op, err)
	}
	if s.isClosed() {
		return nil, SessionClosedErr
	}

	resp, err := s.backend.Login(ctx, params)
	if err != nil {
		return nil, s.failSignIn(ctx, op, err)
	}
	return s.signIn(ctx, op, resp)
}

// Register creates an account and signs in with it. It has the same contract
// as Login; a malformed profile fails before any network call.
func (s *Session) Register(ctx context.Context, profile oauthmodel.RegisterRequest) (user *users.User, err error) {
	const op = "Register"
	ctx, span := obs.StartSpan(ctx, "auth.register", attribute.String("auth.email_domain", emailDomain(profile.Email)))
	defer func() { obs.EndSpan(span, err) }()

	if err := validateRegister(op, profile); err != nil {
		return nil, s.failSignIn(ctx, op, err)
	}
	if s.isClosed() {
		return nil, SessionClosedErr
	}

	resp, err := s.backend.Register(ctx, profile)
	if err != nil {
		return nil, s.failSignIn(ctx, op, err)
	}
	return s.signIn(ctx, op, resp)
}

// signIn stores the pair, then asks who we are. The write happens before the
// whoami call so that call carries the new token.
func (s *Session) signIn(ctx context.Context, op string, resp *oauthmodel.TokenResponse) (*users.User, error) {
	pair := token.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := s.writeTokens(func() error { return s.store.Set(ctx, pair, s.ttls) }); err != nil {
		return nil, s.failSignIn(ctx, op, autherrors.New(autherrors.KindUnexpectedStatus, op, err))
	}

	user, err := s.backend.WhoAmI(ctx)
	if err != nil {
		return nil, s.failSignIn(ctx, op, err)
	}

	s.signedIn(user)
	s.logger.Info().Str("user_id", user.ID).Msg("signed in")
	return user, nil
}

func (s *Session) failSignIn(ctx context.Context, op string, err error) error {
	s.logger.Debug().Err(err).Str("op", op).Msg("sign in failed")
	if clearErr := s.writeTokens(func() error { return s.store.Clear(context.WithoutCancel(ctx)) }); clearErr != nil {
		s.logger.Error().Err(clearErr).Msg("failed to clear tokens")
	}
	s.signedOut()
	return err
}

// Logout clears local credentials and moves to Unauthenticated before
// anything else. The backend is told in the background; its answer is only
// logged. The returned error reports a failure to clear local storage.
func (s *Session) Logout(ctx context.Context) error {
	pair := s.storedPair(ctx)

	err := s.writeTokens(func() error { return s.store.Clear(context.WithoutCancel(ctx)) })
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to clear tokens on logout")
	}
	s.signedOut()

	if pair == (token.Pair{}) || s.isClosed() {
		return err
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if notifyErr := s.backend.Logout(notifyCtx, pair); notifyErr != nil {
			s.logger.Warn().Err(notifyErr).Msg("backend logout failed")
			return
		}
		s.logger.Debug().Msg("backend logout acknowledged")
	}()
	return err
}

// Refresh runs the shared refresh procedure. A failed refresh has already
// cleared the store; the session moves to Unauthenticated and the error is
// returned.
func (s *Session) Refresh(ctx context.Context) error {
	err := s.coordinator.Refresh(ctx)
	if err == nil {
		return nil
	}
	if autherrors.Is(err, autherrors.ErrRefreshFailed) {
		s.signedOut()
	}
	return err
}

// ForgotPassword asks the backend to email a reset link. It never changes the session.
func (s *Session) ForgotPassword(ctx context.Context, email string) error {
	const op = "ForgotPassword"
	in := oauthmodel.ForgotPasswordRequest{Email: email}
	if err := validateForgotPassword(op, in); err != nil {
		return err
	}
	return s.backend.ForgotPassword(ctx, in)
}

// ResetPassword sets a new password with a reset token. confirm may be empty
// when the caller has already checked it. It never changes the session.
func (s *Session) ResetPassword(ctx context.Context, resetToken, newPassword, confirm string) error {
	const op = "ResetPassword"
	in := oauthmodel.ResetPasswordRequest{Token: resetToken, NewPassword: newPassword, ConfirmPassword: confirm}
	if err := validateResetPassword(op, in); err != nil {
		return err
	}
	return s.backend.ResetPassword(ctx, in)
}

// Token returns the stored access token for consumers that manage their own
// requests. It does not refresh.
func (s *Session) Token(ctx context.Context) (*oauth2.Token, error) {
	accessToken, err := s.store.Get(ctx, token.Access)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, NotAuthenticatedErr
		}
		return nil, autherrors.Wrapf(err, "[Session.Token] read access token")
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}

// TokenSource adapts Token to oauth2.TokenSource.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{session: s}
}

type sessionTokenSource struct {
	session *Session
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	return ts.session.Token(context.Background())
}

func (s *Session) storedPair(ctx context.Context) token.Pair {
	var pair token.Pair
	pair.AccessToken, _ = s.store.Get(ctx, token.Access)
	pair.RefreshToken, _ = s.store.Get(ctx, token.Refresh)
	return pair
}

// writeTokens runs a store write that starts a new generation, so a
// bootstrap still in flight will not apply its result over it.
func (s *Session) writeTokens(write func() error) error {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	s.generation.Add(1)
	return write()
}

// clearTokensAt clears the store only if nothing has signed in or out since
// gen. It reports whether it cleared.
func (s *Session) clearTokensAt(ctx context.Context, gen uint64) bool {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	if s.generation.Load() != gen {
		return false
	}
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear tokens")
	}
	return true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
