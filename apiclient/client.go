// Package apiclient speaks the backend's auth HTTP contract. Every protected
// call goes through a transport.Coordinator; the login, register and refresh
// calls use a plain client so they never trigger a refresh themselves.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 64 << 10
)

var _ transport.Refresher = (*Client)(nil)

// Client holds two http.Clients over one base transport:
//   - plain: no stored credentials, used for login, register, refresh, logout
//     and password reset
//   - coordinated: bearer token with refresh-and-retry, used for everything else
type Client struct {
	baseURL   string
	endpoints config.EndpointsConfig
	logger    zerolog.Logger
	metrics   *obs.Metrics

	base           http.RoundTripper
	timeout        time.Duration
	refreshTimeout time.Duration

	plain       *http.Client
	coordinated *http.Client
	coordinator *transport.Coordinator
}

type ClientOption func(*Client)

// WithTransport sets the round tripper all requests finally go through.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.base = rt
	}
}

// WithTimeout sets the per-request timeout of every client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithRefreshTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.refreshTimeout = d
	}
}

func WithEndpoints(endpoints config.EndpointsConfig) ClientOption {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(metrics *obs.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New creates a Client for the backend at baseURL. Tokens written by a
// refresh use ttls.
func New(baseURL string, store token.Store, ttls token.TTLs, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[apiclient.New] base URL is required")
	}
	if store == nil {
		return nil, errors.New("[apiclient.New] token store is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: config.Endpoints{},
		logger:    log.Logger,
		base:      http.DefaultTransport,
		timeout:   defaultRequestTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "apiclient").Logger()

	authorizer := transport.NewAuthorizer(store, c.base, transport.WithAuthorizerLogger(c.logger))
	coordinator, err := transport.NewCoordinator(
		authorizer, c, store, ttls,
		transport.WithLogger(c.logger),
		transport.WithMetrics(c.metrics),
		transport.WithRefreshTimeout(c.refreshTimeout),
	)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[apiclient.New] coordinator")
	}

	c.coordinator = coordinator
	c.plain = &http.Client{Transport: c.base, Timeout: c.timeout}
	c.coordinated = &http.Client{Transport: coordinator, Timeout: c.timeout}
	return c, nil
}

// HTTPClient returns the coordinated client for arbitrary protected API calls.
func (c *Client) HTTPClient() *http.Client {
	return c.coordinated
}

// Coordinator exposes the refresh coordinator so a session can hook its failures.
func (c *Client) Coordinator() *transport.Coordinator {
	return c.coordinator
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do sends req through the coordinated client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.coordinated.Do(req)
}

// Login exchanges credentials for a token pair. The body is form encoded.
func (c *Client) Login(ctx context.Context, params oauthmodel.LoginParameters) (*oauthmodel.TokenResponse, error) {
	const op = "Login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(c.endpoints.GetLoginPath()), strings.NewReader(params.Form().Encode()))
	if err != nil {
		return nil, autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.exchange(c.plain, req, op)
}

// Register creates an account and returns its first token pair.
func (c *Client) Register(ctx context.Context, profile oauthmodel.RegisterRequest) (*oauthmodel.TokenResponse, error) {
	const op = "Register"
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoints.GetRegisterPath(), profile)
	if err != nil {
		return nil, autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	return c.exchange(c.plain, req, op)
}

// Refresh exchanges refreshToken for a new pair. It is called by the
// coordinator and must not itself go through it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	const op = "Refresh"
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoints.GetRefreshPath(), oauthmodel.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return token.Pair{}, autherrors.New(autherrors.KindRefreshFailed, op, err)
	}
	tr, err := c.exchange(c.plain, req, op)
	if err != nil {
		return token.Pair{}, err
	}
	return token.Pair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, nil
}

// WhoAmI fetches the signed-in user's profile through the coordinator.
func (c *Client) WhoAmI(ctx context.Context) (*users.User, error) {
	const op = "WhoAmI"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(c.endpoints.GetWhoAmIPath()), nil)
	if err != nil {
		return nil, autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.coordinated.Do(req)
	if err != nil {
		return nil, autherrors.New(autherrors.KindNetwork, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var user users.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &autherrors.Error{Kind: autherrors.KindUnexpectedStatus, Op: op, Status: resp.StatusCode, Err: err}
	}
	return &user, nil
}

// Logout tells the backend to revoke pair. The pair is passed in because the
// caller has usually cleared the store already, and a 401 is never refreshed.
func (c *Client) Logout(ctx context.Context, pair token.Pair) error {
	const op = "Logout"
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoints.GetLogoutPath(), oauthmodel.LogoutRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		return autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	if pair.AccessToken != "" {
		pair.OAuth2Token().SetAuthHeader(req)
	}
	return c.send(c.plain, req, op)
}

// ForgotPassword asks the backend to send a reset link to email.
func (c *Client) ForgotPassword(ctx context.Context, in oauthmodel.ForgotPasswordRequest) error {
	const op = "ForgotPassword"
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoints.GetForgotPasswordPath(), in)
	if err != nil {
		return autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	return c.send(c.plain, req, op)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, in oauthmodel.ResetPasswordRequest) error {
	const op = "ResetPassword"
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoints.GetResetPasswordPath(), in)
	if err != nil {
		return autherrors.New(autherrors.KindUnexpectedStatus, op, err)
	}
	return c.send(c.plain, req, op)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// exchange sends a request that answers with a token pair.
func (c *Client) exchange(client *http.Client, req *http.Request, op string) (*oauthmodel.TokenResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, autherrors.New(autherrors.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp)
	}

	var tr oauthmodel.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &autherrors.Error{Kind: autherrors.KindUnexpectedStatus, Op: op, Status: resp.StatusCode, Err: err}
	}
	if !tr.Complete() {
		return nil, &autherrors.Error{
			Kind:    autherrors.KindUnexpectedStatus,
			Op:      op,
			Status:  resp.StatusCode,
			Message: "response did not include both tokens",
		}
	}
	return &tr, nil
}

// send sends a request whose success body is ignored.
func (c *Client) send(client *http.Client, req *http.Request, op string) error {
	resp, err := client.Do(req)
	if err != nil {
		return autherrors.New(autherrors.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// statusError classifies a non-2xx response. Login and register rejections
// are credential errors; everything else is an unexpected status.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &autherrors.Error{
		Kind:    autherrors.KindUnexpectedStatus,
		Op:      op,
		Status:  resp.StatusCode,
		Message: oauthmodel.ParseErrorMessage(body),
	}
	switch op {
	case "Login", "Register":
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusConflict, http.StatusUnprocessableEntity:
			e.Kind = autherrors.KindInvalidCredentials
		}
	case "Refresh":
		e.Kind = autherrors.KindRefreshFailed
	}
	return e
}
