// Package app provides the top-level application lifecycle. It wires the
// ledger, guard, cooldown register, monitors, executor and supporting
// services together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmarkhas/solsentry/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the monitor goroutines, and blocks until
// the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "starting",
		slog.String("wallet", deps.Wallet.Address()),
		slog.Int("active_positions", len(deps.Ledger.Active())),
		slog.String("guard_level", string(deps.Guard.Level())),
	)

	g, ctx := errgroup.WithContext(ctx)

	if deps.BTCStream != nil {
		g.Go(func() error {
			return deps.BTCStream.Run(ctx)
		})
	}

	g.Go(func() error {
		return deps.Guard.Run(ctx)
	})

	g.Go(func() error {
		return deps.Slow.Run(ctx)
	})

	if deps.Fast != nil {
		g.Go(func() error {
			return deps.Fast.Run(ctx)
		})
	}

	if deps.Snapshotter != nil {
		g.Go(func() error {
			return deps.Snapshotter.Run(ctx)
		})
	}

	if deps.Metrics != nil {
		a.startMetricsServer(ctx, g, deps)
	}

	return g.Wait()
}

// startMetricsServer exposes the Prometheus registry on the configured
// address and shuts the listener down when ctx is cancelled.
func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", deps.Metrics.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("metrics listener started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
