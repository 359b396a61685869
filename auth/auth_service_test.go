package auth_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/auth"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/fakebackend"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	tokenfakerepo "github.com/jrsteele09/go-auth-client/token/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	testUserEmail    = "a@x.com"
	testUserPassword = "Password123"
)

var testTTLs = token.TTLs{Access: time.Hour, Refresh: 24 * time.Hour}

type testFixture struct {
	backend *fakebackend.Backend
	store   *tokenfakerepo.FakeTokenStore
	client  *apiclient.Client
	metrics *obs.Metrics
	session *auth.Session
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	backend.AddUser(testUserEmail, testUserPassword)

	store := tokenfakerepo.NewFakeTokenStore()
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	client, err := apiclient.New(backend.URL, store, testTTLs,
		apiclient.WithTimeout(5*time.Second),
		apiclient.WithMetrics(metrics),
	)
	require.NoError(t, err)

	session, err := auth.New(client, store, testTTLs,
		auth.WithMetrics(metrics),
		auth.WithLogoutTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Close(ctx)
	})

	return &testFixture{backend: backend, store: store, client: client, metrics: metrics, session: session}
}

// storePair writes a backend-issued pair as if a previous run had signed in.
func (f *testFixture) storePair(t *testing.T) oauthmodel.TokenResponse {
	t.Helper()
	tr := f.backend.IssuePair(testUserEmail)
	require.NoError(t, f.store.Set(context.Background(), token.Pair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, testTTLs))
	return tr
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	_, err := f.session.Login(context.Background(), testUserEmail, testUserPassword)
	require.NoError(t, err)
}

func (f *testFixture) getData(t *testing.T) *http.Response {
	t.Helper()
	resp, err := f.session.Client().Get(f.client.URL(fakebackend.DataPath))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// stateRecorder collects every state a session publishes.
type stateRecorder struct {
	mu     sync.Mutex
	states []auth.State
}

func (r *stateRecorder) record(s auth.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []auth.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.State(nil), r.states...)
}

func TestNewSessionValidation(t *testing.T) {
	store := tokenfakerepo.NewFakeTokenStore()
	client, err := apiclient.New("http://localhost:1", store, testTTLs)
	require.NoError(t, err)

	_, err = auth.New(nil, store, testTTLs)
	require.Error(t, err)
	_, err = auth.NewSession(nil, client.Coordinator(), store, testTTLs)
	require.Error(t, err)
	_, err = auth.NewSession(client, nil, store, testTTLs)
	require.Error(t, err)
	_, err = auth.NewSession(client, client.Coordinator(), nil, testTTLs)
	require.Error(t, err)
}

func TestInitialState(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, auth.State{Status: auth.StatusUninitialized}, f.session.State())
}

func TestBootstrapWithoutTokens(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.session.Bootstrap(context.Background()))

	state := f.session.State()
	require.Equal(t, auth.StatusUnauthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Nil(t, state.User)
	require.EqualValues(t, 0, f.backend.Counters.WhoAmI.Load())
}

func TestBootstrapConcurrentCallsShareOneRun(t *testing.T) {
	f := setupTestFixture(t)
	f.storePair(t)

	recorder := &stateRecorder{}
	f.session.Watch(recorder.record)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.session.Bootstrap(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.backend.Counters.WhoAmI.Load())

	state := f.session.State()
	require.Equal(t, auth.StatusAuthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Equal(t, testUserEmail, state.User.Email)

	initialized := 0
	prev := false
	for _, s := range recorder.all() {
		if s.Initialized && !prev {
			initialized++
		}
		prev = s.Initialized
	}
	require.Equal(t, 1, initialized)

	// A later call returns the same outcome without another request.
	require.NoError(t, f.session.Bootstrap(context.Background()))
	require.EqualValues(t, 1, f.backend.Counters.WhoAmI.Load())
}

func TestBootstrapPublishesBootstrapping(t *testing.T) {
	f := setupTestFixture(t)
	f.storePair(t)

	recorder := &stateRecorder{}
	f.session.Watch(recorder.record)
	require.NoError(t, f.session.Bootstrap(context.Background()))

	states := recorder.all()
	require.Len(t, states, 2)
	require.Equal(t, auth.State{Status: auth.StatusBootstrapping}, states[0])
	require.Equal(t, auth.StatusAuthenticated, states[1].Status)
	require.True(t, states[1].Initialized)
}

func TestBootstrapFailureClearsTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.storePair(t)
	f.backend.FailWhoAmI(true)

	err := f.session.Bootstrap(context.Background())
	require.ErrorIs(t, err, autherrors.ErrUnexpectedStatus)

	state := f.session.State()
	require.Equal(t, auth.StatusUnauthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestBootstrapRefreshesExpiredAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.storePair(t)
	f.backend.ExpireAccess(tr.AccessToken)

	require.NoError(t, f.session.Bootstrap(context.Background()))

	require.Equal(t, auth.StatusAuthenticated, f.session.State().Status)
	require.EqualValues(t, 1, f.backend.Counters.Refresh.Load())
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, f.store.Pair())
}

func TestBootstrapCallerCancellation(t *testing.T) {
	f := setupTestFixture(t)
	f.storePair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.session.Bootstrap(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}

	// The run continues for everyone else.
	require.NoError(t, f.session.Bootstrap(context.Background()))
	require.Equal(t, auth.StatusAuthenticated, f.session.State().Status)
	require.EqualValues(t, 1, f.backend.Counters.WhoAmI.Load())
}

// startHeldBootstrap runs Bootstrap while the who am I call for the stored
// token is held by the backend, and returns once that call has arrived.
func (f *testFixture) startHeldBootstrap(t *testing.T) (release func(), result <-chan error) {
	t.Helper()
	tr := f.storePair(t)
	release = f.backend.HoldWhoAmI(tr.AccessToken)
	t.Cleanup(release)

	errs := make(chan error, 1)
	go func() { errs <- f.session.Bootstrap(context.Background()) }()
	require.Eventually(t, func() bool {
		return f.backend.Counters.WhoAmI.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	return release, errs
}

func TestLogoutDuringBootstrapStaysSignedOut(t *testing.T) {
	f := setupTestFixture(t)
	release, result := f.startHeldBootstrap(t)

	require.NoError(t, f.session.Logout(context.Background()))
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
	release()
	<-result

	state := f.session.State()
	require.Equal(t, auth.StatusUnauthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Nil(t, state.User)
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestLoginDuringBootstrapKeepsNewUser(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.AddUser("b@x.com", "Password456")
	release, result := f.startHeldBootstrap(t)

	user, err := f.session.Login(context.Background(), "b@x.com", "Password456")
	require.NoError(t, err)
	release()
	require.NoError(t, <-result)

	state := f.session.State()
	require.Equal(t, auth.StatusAuthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Same(t, user, state.User)
	require.Equal(t, "b@x.com", state.User.Email)
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, f.store.Pair())
}

func TestFailedBootstrapDoesNotClearNewLogin(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.AddUser("b@x.com", "Password456")
	release, result := f.startHeldBootstrap(t)

	_, err := f.session.Login(context.Background(), "b@x.com", "Password456")
	require.NoError(t, err)
	f.backend.FailWhoAmI(true)
	release()
	require.ErrorIs(t, <-result, autherrors.ErrUnexpectedStatus)

	state := f.session.State()
	require.Equal(t, auth.StatusAuthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Equal(t, "b@x.com", state.User.Email)
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, f.store.Pair())
}

func TestLoginAttachesNewToken(t *testing.T) {
	f := setupTestFixture(t)

	user, err := f.session.Login(context.Background(), testUserEmail, testUserPassword)
	require.NoError(t, err)
	require.Equal(t, testUserEmail, user.Email)

	accessToken, err := f.store.Get(context.Background(), token.Access)
	require.NoError(t, err)
	require.Equal(t, "t1", accessToken)

	state := f.session.State()
	require.Equal(t, auth.StatusAuthenticated, state.Status)
	require.True(t, state.Initialized)
	require.Same(t, user, state.User)

	resp := f.getData(t)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"Bearer t1", "Bearer t1"}, f.backend.AuthorizationHeaders())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransitionCount(string(auth.StatusAuthenticated))))
}

func TestLoginInvalidCredentialsClearsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	_, err := f.session.Login(context.Background(), testUserEmail, "wrong-password")
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.Equal(t, "Incorrect email or password", autherrors.UserMessage(err))

	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
	require.Nil(t, f.session.State().User)
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestLoginValidationSkipsNetwork(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.session.Login(context.Background(), "  ", testUserPassword)
	require.ErrorIs(t, err, autherrors.ErrValidation)
	require.ErrorIs(t, err, oauthmodel.ErrEmailRequired)
	require.EqualValues(t, 0, f.backend.Counters.Login.Load())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
}

func TestLoginWhoAmIFailureLeavesNoTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.FailWhoAmI(true)

	_, err := f.session.Login(context.Background(), testUserEmail, testUserPassword)
	require.Error(t, err)
	require.Equal(t, token.Pair{}, f.store.Pair())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t)

	user, err := f.session.Register(context.Background(), oauthmodel.RegisterRequest{
		Email:           "new@x.com",
		Password:        "Password123",
		ConfirmPassword: "Password123",
		DisplayName:     "New User",
	})
	require.NoError(t, err)
	require.Equal(t, "new@x.com", user.Email)
	require.Equal(t, "New User", user.Name())
	require.Equal(t, auth.StatusAuthenticated, f.session.State().Status)
	require.Equal(t, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, f.store.Pair())
}

func TestRegisterPasswordMismatchSkipsNetwork(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.session.Register(context.Background(), oauthmodel.RegisterRequest{
		Email:           "new@x.com",
		Password:        "Password123",
		ConfirmPassword: "Password321",
	})
	require.ErrorIs(t, err, autherrors.ErrValidation)
	require.Equal(t, "passwords do not match", autherrors.UserMessage(err))
	require.EqualValues(t, 0, f.backend.Counters.Register.Load())
}

func TestRegisterRejected(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.session.Register(context.Background(), oauthmodel.RegisterRequest{Email: testUserEmail, Password: "Password123"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.Equal(t, "Email already registered", autherrors.UserMessage(err))
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestLogoutClearsBeforeBackendAnswers(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.SetLogout(http.StatusInternalServerError, 200*time.Millisecond)

	require.NoError(t, f.session.Logout(context.Background()))

	require.Equal(t, token.Pair{}, f.store.Pair())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
	require.True(t, f.session.State().Initialized)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.session.Close(ctx))
	require.EqualValues(t, 1, f.backend.Counters.Logout.Load())
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestLogoutBackendUnreachable(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.Close()

	require.NoError(t, f.session.Logout(context.Background()))
	require.Equal(t, token.Pair{}, f.store.Pair())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
}

func TestLogoutWithoutTokensSkipsBackend(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.session.Logout(context.Background()))
	require.NoError(t, f.session.Close(context.Background()))
	require.EqualValues(t, 0, f.backend.Counters.Logout.Load())
}

func TestRefreshFailureDuringCallSignsOut(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.ExpireAccess("t1")
	f.backend.FailRefresh(true)

	resp := f.getData(t)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, token.Pair{}, f.store.Pair())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransitionCount(string(auth.StatusUnauthenticated))))
}

func TestManualRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	require.NoError(t, f.session.Refresh(context.Background()))
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, f.store.Pair())
	require.Equal(t, auth.StatusAuthenticated, f.session.State().Status)

	f.backend.FailRefresh(true)
	err := f.session.Refresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrRefreshFailed)
	require.Equal(t, token.Pair{}, f.store.Pair())
	require.Equal(t, auth.StatusUnauthenticated, f.session.State().Status)
}

func TestPasswordResetDoesNotChangeSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	recorder := &stateRecorder{}
	f.session.Watch(recorder.record)
	ctx := context.Background()

	require.NoError(t, f.session.ForgotPassword(ctx, testUserEmail))
	require.NoError(t, f.session.ResetPassword(ctx, fakebackend.ValidResetToken, "Password456", "Password456"))

	err := f.session.ResetPassword(ctx, fakebackend.ValidResetToken, "Password456", "Password457")
	require.ErrorIs(t, err, autherrors.ErrValidation)
	err = f.session.ForgotPassword(ctx, "not-an-email")
	require.ErrorIs(t, err, autherrors.ErrValidation)

	require.Empty(t, recorder.all())
	require.Equal(t, auth.StatusAuthenticated, f.session.State().Status)
	require.EqualValues(t, 1, f.backend.Counters.ForgotPassword.Load())
	require.EqualValues(t, 1, f.backend.Counters.ResetPassword.Load())
}

func TestTokenSource(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.session.TokenSource().Token()
	require.ErrorIs(t, err, auth.NotAuthenticatedErr)

	f.login(t)
	tok, err := f.session.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, "t1", tok.AccessToken)
	require.Equal(t, "Bearer", tok.Type())
}

func TestWatchCancel(t *testing.T) {
	f := setupTestFixture(t)

	recorder := &stateRecorder{}
	cancel := f.session.Watch(recorder.record)
	require.NoError(t, f.session.Bootstrap(context.Background()))
	cancel()
	cancel()
	f.login(t)

	states := recorder.all()
	require.Len(t, states, 2)
	require.Equal(t, auth.StatusUnauthenticated, states[1].Status)
}

func TestClosedSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.session.Close(context.Background()))

	_, err := f.session.Login(context.Background(), testUserEmail, testUserPassword)
	require.ErrorIs(t, err, auth.SessionClosedErr)
	require.ErrorIs(t, f.session.Bootstrap(context.Background()), auth.SessionClosedErr)
	require.EqualValues(t, 0, f.backend.Counters.Login.Load())
}
