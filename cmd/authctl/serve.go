package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-client/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local dashboard over the stored session",
		Long: `Serve sign-in, registration, password reset and a protected dashboard.
Protected pages answer 503 until the session has bootstrapped, then either
render or redirect to /login.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default LISTEN_ADDR or localhost:8080)")

	return cmd
}

func run(addr string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if addr == "" {
		addr = a.cfg.GetListenAddr()
	}
	displayAppname(a.cfg.GetAppName())

	handler, err := server.New(a.cfg, a.session,
		server.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(srv) }()
	go bootstrap(a)

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// bootstrap runs after the listener is up so the gate is seen answering "loading".
func bootstrap(a *app) {
	if err := a.session.Bootstrap(context.Background()); err != nil {
		log.Warn().Err(err).Msg("bootstrap failed, starting signed out")
	}
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("Dashboard listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("Dashboard stopped")
	return nil
}
