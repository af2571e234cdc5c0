package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and WebSocket hub, and consumes
// inter-ledger messages from the bus when one is configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if err := a.install(ctx, deps); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SnapshotMode exports the ledger once and exits.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	if deps.Snapshots == nil {
		return errors.New("app: snapshot mode requires s3")
	}
	key, err := deps.Snapshots.Export(ctx, deps.Engine)
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}
	a.logger.InfoContext(ctx, "app: snapshot written", slog.String("key", key))
	return nil
}

// RestoreMode loads the latest snapshot into the (empty) backend and exits.
func (a *App) RestoreMode(ctx context.Context, deps *Dependencies) error {
	if deps.Snapshots == nil {
		return errors.New("app: restore mode requires s3")
	}
	key, err := deps.Snapshots.Restore(ctx, deps.Engine)
	if err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}
	a.logger.InfoContext(ctx, "app: snapshot restored", slog.String("key", key))
	return nil
}

// FullMode is server mode plus periodic snapshots when they are enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if err := a.install(ctx, deps); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "app: starting full mode",
		slog.Bool("snapshots", deps.Snapshots != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	if deps.Snapshots != nil {
		interval := a.cfg.Snapshot.Interval.Duration
		g.Go(func() error {
			return a.snapshotLoop(ctx, deps, interval)
		})
	}
	return g.Wait()
}

// startHTTPServer adds the HTTP server, its graceful shutdown, the hub loop
// and the message consumer to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	g.Go(func() error {
		return deps.Service.ConsumeMessages(ctx)
	})

	g.Go(func() error {
		return deps.Server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return deps.Server.Shutdown(shutCtx)
	})
}

// snapshotLoop exports on every tick. A failed export is logged and retried
// on the next tick.
func (a *App) snapshotLoop(ctx context.Context, deps *Dependencies, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			key, err := deps.Snapshots.Export(ctx, deps.Engine)
			if err != nil {
				a.logger.WarnContext(ctx, "app: periodic snapshot failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.DebugContext(ctx, "app: periodic snapshot written", slog.String("key", key))
		}
	}
}
