package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/obs"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/filestore"
	"github.com/jrsteele09/go-auth-client/token/redisstore"
	tokenfakerepo "github.com/jrsteele09/go-auth-client/token/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// app is everything one command needs: a store, the API client and the session over both.
type app struct {
	cfg        config.Config
	registry   *prometheus.Registry
	client     *apiclient.Client
	session    *auth.Session
	closeStore func() error
}

func newApp() (*app, error) {
	cfg := config.New()
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)
	ttls := token.TTLs{Access: cfg.GetAccessTokenTTL(), Refresh: cfg.GetRefreshTokenTTL()}

	client, err := apiclient.New(cfg.GetBaseURL(), store, ttls,
		apiclient.WithEndpoints(cfg),
		apiclient.WithTimeout(cfg.GetRequestTimeout()),
		apiclient.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		apiclient.WithMetrics(metrics),
	)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	session, err := auth.New(client, store, ttls,
		auth.WithMetrics(metrics),
		auth.WithLogoutTimeout(cfg.GetLogoutTimeout()),
	)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	return &app{cfg: cfg, registry: registry, client: client, session: session, closeStore: closeStore}, nil
}

// close waits for any background logout notification, then releases the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GetLogoutTimeout()+time.Second)
	defer cancel()
	if err := a.session.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("session did not close cleanly")
	}
	if err := a.closeStore(); err != nil {
		log.Warn().Err(err).Msg("token store did not close cleanly")
	}
}

// openStore selects the token backend named by TOKEN_STORE.
func openStore(cfg config.TokenConfig) (token.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.GetTokenStore() {
	case config.TokenStoreMemory:
		return tokenfakerepo.NewFakeTokenStore(), noop, nil
	case config.TokenStoreRedis:
		store, err := redisstore.Dial(cfg.GetRedisURL(), cfg.GetTokenNamespace())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.TokenStoreFile:
		var opts []filestore.Option
		if encoded := cfg.GetTokenStoreKey(); encoded != "" {
			key, err := filestore.ParseKey(encoded)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, filestore.WithKey(key))
		}
		store, err := filestore.New(cfg.GetTokenFile(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown TOKEN_STORE %q (want %s, %s or %s)",
		cfg.GetTokenStore(), config.TokenStoreFile, config.TokenStoreMemory, config.TokenStoreRedis)
}

// withApp builds the app for a command and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(context.Background(), a)
}
