// Package main runs the call-signaling relay: the signal mailbox API, its
// WebSocket stream and the hosted-media bootstrap routes on one listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardkeep/signal_layer/internal/app/storage/backends"
	"github.com/cardkeep/signal_layer/internal/config"
	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/metrics"
	"github.com/cardkeep/signal_layer/internal/push"
	"github.com/cardkeep/signal_layer/services/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(relay.ServiceName, cfg.LogLevel, cfg.LogFormat)
	logger.WithField("store", cfg.Store).WithField("identity", cfg.Identity.Mode).Info("starting relay")

	store, err := backends.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open signal store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close signal store")
		}
	}()

	resolver, err := newResolver(cfg)
	if err != nil {
		return fmt.Errorf("create identity resolver: %w", err)
	}

	notifier := newNotifier(cfg, logger)
	a, err := build(cfg, deps{
		Store:    store,
		Resolver: resolver,
		Profiles: newProfiles(cfg, logger),
		Notifier: notifier,
		Metrics:  metrics.New(true),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Relay.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		logger.WithError(err).Error("server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	// Stop first so open streams get a close frame before the listener goes.
	if err := a.Relay.Stop(); err != nil {
		logger.WithError(err).Warn("relay stop error")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	if g, ok := notifier.(*push.GatewayNotifier); ok {
		g.Wait()
	}

	logger.Info("relay stopped")
	return nil
}
