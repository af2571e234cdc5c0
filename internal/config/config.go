// Package config defines the top-level configuration for the cascade ledger
// service and provides validation helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CASCADE_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Badger   BadgerConfig   `toml:"badger"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
}

// LedgerConfig selects the storage backend and names the privileged accounts.
type LedgerConfig struct {
	// Admin is the owner allowed to resolve markets. It is recorded once, on
	// the first start against an empty backend.
	Admin         string `toml:"admin"`
	EscrowAccount string `toml:"escrow_account"`
	// Backend is one of memory, badger, sqlite, postgres.
	Backend string `toml:"backend"`
	// Faucet enables POST /api/admin/deposits.
	Faucet bool `toml:"faucet"`
}

// BadgerConfig holds BadgerDB parameters.
type BadgerConfig struct {
	Path          string `toml:"path"`
	InMemory      bool   `toml:"in_memory"`
	SyncWrites    bool   `toml:"sync_writes"`
	EncryptionKey string `toml:"encryption_key"` // hex, 16/24/32 bytes
}

// SQLiteConfig holds the SQLite database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters. It serves both the
// postgres backend and the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Audit         bool   `toml:"audit"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// SnapshotConfig controls ledger snapshots.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Prefix   string   `toml:"prefix"`
	Interval duration `toml:"interval"`
	Keep     int      `toml:"keep"` // newest snapshots retained; 0 keeps all
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// Addr is the listen address for Port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode    string   `toml:"mode"`
	MaxSkew duration `toml:"max_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig holds logging parameters. When File is set, output is also
// written to a rotating file.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			EscrowAccount: "escrow",
			Backend:       "badger",
		},
		Badger: BadgerConfig{
			Path: "data/ledger",
		},
		SQLite: SQLiteConfig{
			Path: "data/ledger.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cascade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "cascade:",
			CacheTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cascade-snapshots",
			ForcePathStyle: true,
			PartSizeMB:     8,
		},
		Snapshot: SnapshotConfig{
			Prefix:   "snapshots",
			Interval: duration{time.Hour},
			Keep:     48,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Auth: AuthConfig{
			Mode:    "signature",
			MaxSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "winnings_claimed"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Mode: "server",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"snapshot": true,
	"restore":  true,
	"full":     true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"badger":   true,
	"sqlite":   true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the configuration opens a PostgreSQL pool.
func (c *Config) NeedsPostgres() bool {
	return strings.EqualFold(c.Ledger.Backend, "postgres") || c.Postgres.Enabled
}

// NeedsS3 reports whether the selected mode touches snapshot storage.
func (c *Config) NeedsS3() bool {
	switch strings.ToLower(c.Mode) {
	case "snapshot", "restore":
		return true
	case "full":
		return c.Snapshot.Enabled
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, snapshot, restore, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	// Ledger
	backend := strings.ToLower(c.Ledger.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, badger, sqlite, postgres)", c.Ledger.Backend))
	}
	if strings.TrimSpace(c.Ledger.EscrowAccount) == "" {
		errs = append(errs, "ledger: escrow_account must not be empty")
	}
	if c.Ledger.Admin != "" && strings.EqualFold(c.Ledger.Admin, c.Ledger.EscrowAccount) {
		errs = append(errs, "ledger: admin must differ from escrow_account")
	}

	switch backend {
	case "badger":
		if !c.Badger.InMemory && strings.TrimSpace(c.Badger.Path) == "" {
			errs = append(errs, "badger: path must not be empty unless in_memory is set")
		}
		if c.Badger.EncryptionKey != "" {
			key, err := hex.DecodeString(c.Badger.EncryptionKey)
			if err != nil {
				errs = append(errs, "badger: encryption_key must be hex")
			} else if n := len(key); n != 16 && n != 24 && n != 32 {
				errs = append(errs, fmt.Sprintf("badger: encryption_key must be 16, 24 or 32 bytes, got %d", n))
			}
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	}

	if mode == "restore" && backend == "memory" {
		errs = append(errs, "restore: the memory backend does not outlive the process")
	}

	// Postgres
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and snapshots
	if c.NeedsS3() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if strings.Trim(c.Snapshot.Prefix, "/") == "" {
			errs = append(errs, "snapshot: prefix must not be empty")
		}
	}
	if c.Snapshot.Keep < 0 {
		errs = append(errs, "snapshot: keep must be >= 0")
	}
	if mode == "full" && c.Snapshot.Enabled && c.Snapshot.Interval.Duration <= 0 {
		errs = append(errs, "snapshot: interval must be > 0 when enabled")
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Auth
	switch strings.ToLower(c.Auth.Mode) {
	case "", "signature", "header":
	default:
		errs = append(errs, fmt.Sprintf("auth: unknown mode %q (valid: signature, header)", c.Auth.Mode))
	}
	if c.Auth.MaxSkew.Duration < 0 {
		errs = append(errs, "auth: max_skew must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
