package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey            = "refresh"
	defaultRefreshTimeout = 15 * time.Second
)

var _ http.RoundTripper = (*Coordinator)(nil)

// Refresher exchanges a refresh token for a new pair at the refresh endpoint.
// It must not go through a Coordinator.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (token.Pair, error)
}

// RefreshFailureFunc is told about every failed refresh after the store has been cleared.
type RefreshFailureFunc func(err error)

// Coordinator is an http.RoundTripper that handles 401 responses. Each call
// is retried at most once; concurrent calls that hit 401 share one refresh.
type Coordinator struct {
	authorizer     *Authorizer
	refresher      Refresher
	store          token.Store
	ttls           token.TTLs
	refreshTimeout time.Duration
	group          singleflight.Group
	logger         zerolog.Logger
	metrics        *obs.Metrics

	hooksMu sync.RWMutex
	hooks   []RefreshFailureFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(metrics *obs.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithRefreshTimeout bounds a single refresh call, independent of any caller's context.
func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// NewCoordinator creates a Coordinator sending requests through authorizer.
// ttls are applied to every pair written after a refresh.
func NewCoordinator(
	authorizer *Authorizer,
	refresher Refresher,
	store token.Store,
	ttls token.TTLs,
	options ...CoordinatorOption,
) (*Coordinator, error) {
	if authorizer == nil {
		return nil, errors.New("[NewCoordinator] authorizer is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewCoordinator] refresher is required")
	}
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}

	c := &Coordinator{
		authorizer:     authorizer,
		refresher:      refresher,
		store:          store,
		ttls:           ttls,
		refreshTimeout: defaultRefreshTimeout,
		logger:         log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "coordinator").Logger()
	return c, nil
}

// OnRefreshFailure registers fn to run after every failed refresh.
func (c *Coordinator) OnRefreshFailure(fn RefreshFailureFunc) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// RoundTrip sends req with the current access token. On a 401 it refreshes
// (or waits for the refresh already in flight) and re-sends once. A second
// 401, or a failed refresh, returns the 401 response to the caller.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		out, sentWith := c.authorizer.Authorize(req)
		resp, err := c.authorizer.next.RoundTrip(out)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		if attempt > 0 {
			c.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("401 after refresh, giving up")
			return resp, nil
		}

		if err := c.refreshFrom(req.Context(), sentWith); err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				discard(resp)
				return nil, err
			}
			c.logger.Debug().Err(err).Str("path", req.URL.Path).Msg("refresh failed, returning original 401")
			return resp, nil
		}

		retry, err := rewind(req)
		if err != nil {
			return resp, nil
		}
		discard(resp)
		req = retry
		c.metrics.Retry()
	}
}

// Refresh runs the shared refresh procedure directly. It joins a refresh
// already in flight rather than starting a second one.
func (c *Coordinator) Refresh(ctx context.Context) error {
	current, err := c.store.Get(ctx, token.Access)
	if err != nil {
		current = ""
	}
	return c.refreshFrom(ctx, current)
}

// refreshFrom waits for the single in-flight refresh, starting it if needed.
// stale is the access token that was rejected.
func (c *Coordinator) refreshFrom(ctx context.Context, stale string) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return nil, c.refresh(ctx, stale)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh is the body of one flight. It runs detached from the caller's
// cancellation since other callers may be waiting on it.
func (c *Coordinator) refresh(parent context.Context, stale string) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.refreshTimeout)
	defer cancel()

	attemptID := uuid.NewString()
	ctx, span := obs.StartSpan(ctx, "auth.refresh", attribute.String("auth.refresh.attempt_id", attemptID))
	defer func() { obs.EndSpan(span, err) }()
	logger := c.logger.With().Str("attempt_id", attemptID).Logger()

	// Another flight may have finished between this caller's 401 and now.
	if c.replaced(ctx, stale) {
		logger.Debug().Msg("access token already replaced, reusing it")
		c.metrics.Refresh(obs.OutcomeReused)
		return nil
	}

	refreshToken, getErr := c.store.Get(ctx, token.Refresh)
	if getErr != nil {
		return c.fail(ctx, logger, stale, autherrors.New(autherrors.KindNoRefreshToken, "Refresh", getErr), obs.OutcomeNoRefreshToken)
	}

	done := c.metrics.RefreshStarted()
	pair, refreshErr := c.refresher.Refresh(ctx, refreshToken)
	done()
	if refreshErr != nil {
		return c.fail(ctx, logger, stale, autherrors.New(autherrors.KindRefreshFailed, "Refresh", refreshErr), obs.OutcomeFailure)
	}
	// A sign in during the exchange wins over the refreshed pair.
	if c.replaced(ctx, stale) {
		logger.Debug().Msg("credentials replaced during refresh, discarding refreshed pair")
		c.metrics.Refresh(obs.OutcomeReused)
		return nil
	}
	if setErr := c.store.Set(ctx, pair, c.ttls); setErr != nil {
		return c.fail(ctx, logger, stale, autherrors.New(autherrors.KindRefreshFailed, "Refresh", setErr), obs.OutcomeFailure)
	}

	logger.Info().Msg("access token refreshed")
	c.metrics.Refresh(obs.OutcomeSuccess)
	return nil
}

// replaced reports whether the store now holds an access token other than stale.
func (c *Coordinator) replaced(ctx context.Context, stale string) bool {
	current, err := c.store.Get(ctx, token.Access)
	return err == nil && current != stale
}

// fail clears the store and runs the failure hooks, unless new credentials
// were stored while the flight ran. Those belong to a newer sign in and the
// callers can retry with them.
func (c *Coordinator) fail(ctx context.Context, logger zerolog.Logger, stale string, err error, outcome string) error {
	if c.replaced(ctx, stale) {
		logger.Debug().Err(err).Msg("refresh failed but credentials were replaced meanwhile, keeping them")
		c.metrics.Refresh(obs.OutcomeReused)
		return nil
	}
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		logger.Error().Err(clearErr).Msg("failed to clear tokens after refresh failure")
	}
	logger.Warn().Err(err).Msg("refresh failed, credentials cleared")
	c.metrics.Refresh(outcome)

	c.hooksMu.RLock()
	hooks := append([]RefreshFailureFunc(nil), c.hooks...)
	c.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(err)
	}
	return err
}
