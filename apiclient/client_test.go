package apiclient_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/fakebackend"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	tokenfakerepo "github.com/jrsteele09/go-auth-client/token/repofake"
	"github.com/stretchr/testify/require"
)

var testTTLs = token.TTLs{Access: time.Hour, Refresh: 24 * time.Hour}

type testFixture struct {
	backend *fakebackend.Backend
	store   *tokenfakerepo.FakeTokenStore
	client  *apiclient.Client
}

func setupTestFixture(t *testing.T) testFixture {
	t.Helper()
	backend := fakebackend.New()
	t.Cleanup(backend.Close)
	backend.AddUser("alice@example.com", "Password123")

	store := tokenfakerepo.NewFakeTokenStore()
	client, err := apiclient.New(backend.URL+"/", store, testTTLs, apiclient.WithTimeout(5*time.Second))
	require.NoError(t, err)
	return testFixture{backend: backend, store: store, client: client}
}

func TestNewValidation(t *testing.T) {
	_, err := apiclient.New("", tokenfakerepo.NewFakeTokenStore(), testTTLs)
	require.Error(t, err)
	_, err = apiclient.New("http://localhost", nil, testTTLs)
	require.Error(t, err)
}

func TestURL(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, f.backend.URL+"/auth/me", f.client.URL("/auth/me"))
	require.Equal(t, f.backend.URL+"/api/data", f.client.URL("api/data"))
	require.Equal(t, "https://other.test/x", f.client.URL("https://other.test/x"))
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)

	tr, err := f.client.Login(context.Background(), oauthmodel.LoginParameters{Email: "alice@example.com", Password: "Password123"})
	require.NoError(t, err)
	require.Equal(t, "t1", tr.AccessToken)
	require.Equal(t, "r1", tr.RefreshToken)
	require.EqualValues(t, 1, f.backend.Counters.Login.Load())

	// The login call never writes tokens itself.
	require.Equal(t, token.Pair{}, f.store.Pair())
}

func TestLoginRejected(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Login(context.Background(), oauthmodel.LoginParameters{Email: "alice@example.com", Password: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.Equal(t, "Incorrect email or password", autherrors.UserMessage(err))

	var e *autherrors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, http.StatusUnauthorized, e.Status)
}

func TestLoginNetworkError(t *testing.T) {
	backend := fakebackend.New()
	url := backend.URL
	backend.Close()

	client, err := apiclient.New(url, tokenfakerepo.NewFakeTokenStore(), testTTLs)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), oauthmodel.LoginParameters{Email: "a@x.com", Password: "pw"})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t)

	tr, err := f.client.Register(context.Background(), oauthmodel.RegisterRequest{
		Email:       "bob@example.com",
		Password:    "Password123",
		DisplayName: "Bob",
	})
	require.NoError(t, err)
	require.True(t, tr.Complete())
	require.NotNil(t, tr.User)
	require.Equal(t, "Bob", tr.User.DisplayName)

	_, err = f.client.Register(context.Background(), oauthmodel.RegisterRequest{Email: "bob@example.com", Password: "Password123"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.Equal(t, "Email already registered", autherrors.UserMessage(err))
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.backend.IssuePair("alice@example.com")

	pair, err := f.client.Refresh(context.Background(), tr.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, pair)

	// Refresh tokens rotate.
	_, err = f.client.Refresh(context.Background(), tr.RefreshToken)
	require.ErrorIs(t, err, autherrors.ErrRefreshFailed)
	require.Equal(t, []string{"", ""}, f.backend.AuthorizationHeaders())
}

func TestWhoAmIRefreshesExpiredToken(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.backend.IssuePair("alice@example.com")
	require.NoError(t, f.store.Set(context.Background(), token.Pair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, testTTLs))
	f.backend.ExpireAccess(tr.AccessToken)

	user, err := f.client.WhoAmI(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.EqualValues(t, 1, f.backend.Counters.Refresh.Load())
	require.Equal(t, token.Pair{AccessToken: "t2", RefreshToken: "r2"}, f.store.Pair())
}

func TestWhoAmIWithoutTokens(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.WhoAmI(context.Background())
	require.ErrorIs(t, err, autherrors.ErrUnexpectedStatus)
	require.EqualValues(t, 0, f.backend.Counters.Refresh.Load())
}

func TestLogoutDoesNotRefresh(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.backend.IssuePair("alice@example.com")
	f.backend.SetLogout(http.StatusUnauthorized, 0)

	err := f.client.Logout(context.Background(), token.Pair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken})
	require.ErrorIs(t, err, autherrors.ErrUnexpectedStatus)
	require.EqualValues(t, 0, f.backend.Counters.Refresh.Load())
	require.Equal(t, []string{"Bearer t1"}, f.backend.AuthorizationHeaders())
}

func TestPasswordReset(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.ForgotPassword(ctx, oauthmodel.ForgotPasswordRequest{Email: "alice@example.com"}))
	require.NoError(t, f.client.ResetPassword(ctx, oauthmodel.ResetPasswordRequest{Token: fakebackend.ValidResetToken, NewPassword: "Password456"}))

	err := f.client.ResetPassword(ctx, oauthmodel.ResetPasswordRequest{Token: "stale", NewPassword: "Password456"})
	require.ErrorIs(t, err, autherrors.ErrUnexpectedStatus)
	require.Equal(t, "Invalid or expired reset token", autherrors.UserMessage(err))
}

func TestDoUsesCoordinatedClient(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.backend.IssuePair("alice@example.com")
	require.NoError(t, f.store.Set(context.Background(), token.Pair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, testTTLs))
	f.backend.ExpireAccess(tr.AccessToken)

	req, err := http.NewRequest(http.MethodGet, f.client.URL(fakebackend.DataPath), nil)
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "alice@example.com")
	require.Same(t, f.client.HTTPClient().Transport, f.client.Coordinator())
}
