// Package app provides the top-level application lifecycle for the cascade
// ledger service. It wires the backend, engine, caches, snapshot storage,
// notifications and HTTP server, then runs the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cascade/internal/config"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
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

// Run is the main entry point. It wires all dependencies, selects the
// operating mode and blocks until the mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("backend", a.cfg.Ledger.Backend),
		slog.String("log_level", a.cfg.Log.Level),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger.With(slog.String("component", "wire")))
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "snapshot":
		return a.SnapshotMode(ctx, deps)
	case "restore":
		return a.RestoreMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// install records the configured admin on an empty ledger. A ledger that is
// already installed keeps its admin; configuring a different one is an error.
func (a *App) install(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Ledger.Admin != "" {
		if err := deps.Engine.Instantiate(ctx, domain.Owner(a.cfg.Ledger.Admin)); err != nil {
			return fmt.Errorf("app: instantiate: %w", err)
		}
		return nil
	}
	if _, err := deps.Engine.Admin(ctx); err != nil {
		if errors.Is(err, domain.ErrNotInstalled) {
			return errors.New("app: ledger.admin is required to initialise an empty ledger")
		}
		return fmt.Errorf("app: read admin: %w", err)
	}
	return nil
}
