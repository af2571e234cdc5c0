package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cascade/internal/auth"
	s3blob "github.com/alanyoungcy/cascade/internal/blob/s3"
	"github.com/alanyoungcy/cascade/internal/cache/redis"
	"github.com/alanyoungcy/cascade/internal/config"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
	"github.com/alanyoungcy/cascade/internal/notify"
	"github.com/alanyoungcy/cascade/internal/server"
	"github.com/alanyoungcy/cascade/internal/server/handler"
	"github.com/alanyoungcy/cascade/internal/server/ws"
	"github.com/alanyoungcy/cascade/internal/service"
	"github.com/alanyoungcy/cascade/internal/store/badger"
	"github.com/alanyoungcy/cascade/internal/store/memory"
	"github.com/alanyoungcy/cascade/internal/store/postgres"
	"github.com/alanyoungcy/cascade/internal/store/sqlite"
	"github.com/alanyoungcy/cascade/internal/transfer"
)

// Dependencies bundles everything the modes run. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Backend domain.Backend
	Engine  *ledger.Engine
	Service *service.LedgerService

	// Snapshots is nil unless the mode touches object storage.
	Snapshots *s3blob.SnapshotExporter

	Hub    *ws.Hub
	Server *server.Server
	Checks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.HealthCheck{}}

	// --- PostgreSQL (backend and/or audit log) ---
	var pg *postgres.Client
	if cfg.NeedsPostgres() {
		var err error
		pg, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Checks["postgres"] = func(ctx context.Context) error {
			return pg.Pool().Ping(ctx)
		}
	}

	// --- Ledger backend ---
	backend, closeBackend, err := openBackend(cfg, pg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeBackend)
	deps.Backend = backend

	engine := ledger.NewEngine(
		backend,
		transfer.NewBook(),
		domain.SystemClock{},
		domain.Account(cfg.Ledger.EscrowAccount),
		logger.With(slog.String("component", "ledger")),
	)
	deps.Engine = engine
	deps.Checks["ledger"] = func(ctx context.Context) error {
		_, err := engine.Admin(ctx)
		return err
	}

	svc := service.NewLedgerService(engine, logger.With(slog.String("component", "ledger_service")))
	deps.Service = svc

	if pg != nil && cfg.Postgres.Audit {
		svc.WithAudit(postgres.NewAuditStore(pg.Pool()))
	}

	// --- Redis ---
	var (
		bus     domain.SignalBus
		limiter domain.RateLimiter
		replay  auth.ReplayGuard
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		limiter = redis.NewRateLimiter(redisClient)
		replay = redis.NewReplayGuard(redisClient)
		svc.WithLocks(redis.NewLockManager(redisClient)).
			WithCache(redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)).
			WithBus(bus)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 snapshots ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		blobReader := s3blob.NewReader(s3Client)
		deps.Snapshots = s3blob.NewSnapshotExporter(
			s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)<<20),
			blobReader,
			cfg.Snapshot.Prefix,
			logger.With(slog.String("component", "snapshot")),
		).WithRetention(blobReader, cfg.Snapshot.Keep)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		svc.WithNotifier(notify.NewNotifier(senders, cfg.Notify.Events, logger.With(slog.String("component", "notify"))))
	}

	// --- HTTP + WebSocket ---
	hubLogger := logger.With(slog.String("component", "ws"))
	deps.Hub = ws.NewHub(bus, cfg.Server.CORSOrigins, hubLogger)
	if bus == nil {
		// Without a bus the hub is fed directly by this process.
		svc.Observe(deps.Hub.Publish)
	}

	authn, err := auth.New(cfg.Auth.Mode, cfg.Auth.MaxSkew.Duration, replay)
	if err != nil {
		return fail(fmt.Errorf("wire: auth: %w", err))
	}

	httpLogger := logger.With(slog.String("component", "http"))
	deps.Server = server.NewServer(server.Config{
		Addr:        cfg.Server.Addr(),
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, httpLogger),
		Markets: handler.NewMarketHandler(svc, engine, httpLogger),
		Owners:  handler.NewOwnerHandler(engine, httpLogger),
		Admin:   handler.NewAdminHandler(svc, engine, httpLogger).WithFaucet(cfg.Ledger.Faucet),
	}, deps.Hub, authn, limiter, httpLogger)

	return deps, cleanup, nil
}

// openBackend opens the configured key-value backend. pg must be non-nil
// for the postgres backend.
func openBackend(cfg *config.Config, pg *postgres.Client) (domain.Backend, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "memory":
		return memory.New(), noop, nil

	case "badger":
		var key []byte
		if cfg.Badger.EncryptionKey != "" {
			var err error
			if key, err = hex.DecodeString(cfg.Badger.EncryptionKey); err != nil {
				return nil, nil, fmt.Errorf("wire: badger encryption key: %w", err)
			}
		}
		store, err := badger.Open(badger.Options{
			Path:          cfg.Badger.Path,
			InMemory:      cfg.Badger.InMemory,
			SyncWrites:    cfg.Badger.SyncWrites,
			EncryptionKey: key,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		if pg == nil {
			return nil, nil, fmt.Errorf("wire: postgres backend selected without a connection")
		}
		return postgres.NewKVStore(pg.Pool()), noop, nil

	default:
		return nil, nil, fmt.Errorf("wire: unknown backend %q", cfg.Ledger.Backend)
	}
}
