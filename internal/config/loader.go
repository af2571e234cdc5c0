package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CASCADE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CASCADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Admin, "CASCADE_LEDGER_ADMIN")
	setStr(&cfg.Ledger.EscrowAccount, "CASCADE_LEDGER_ESCROW_ACCOUNT")
	setStr(&cfg.Ledger.Backend, "CASCADE_LEDGER_BACKEND")
	setBool(&cfg.Ledger.Faucet, "CASCADE_LEDGER_FAUCET")

	// ── Badger ──
	setStr(&cfg.Badger.Path, "CASCADE_BADGER_PATH")
	setBool(&cfg.Badger.InMemory, "CASCADE_BADGER_IN_MEMORY")
	setBool(&cfg.Badger.SyncWrites, "CASCADE_BADGER_SYNC_WRITES")
	setStr(&cfg.Badger.EncryptionKey, "CASCADE_BADGER_ENCRYPTION_KEY")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "CASCADE_SQLITE_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CASCADE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CASCADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CASCADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASCADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASCADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASCADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASCADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASCADE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CASCADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASCADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CASCADE_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Audit, "CASCADE_POSTGRES_AUDIT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CASCADE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CASCADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASCADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASCADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASCADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CASCADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CASCADE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CASCADE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "CASCADE_REDIS_CACHE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "CASCADE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CASCADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASCADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASCADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASCADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASCADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CASCADE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CASCADE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.PartSizeMB, "CASCADE_S3_PART_SIZE_MB")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "CASCADE_SNAPSHOT_ENABLED")
	setStr(&cfg.Snapshot.Prefix, "CASCADE_SNAPSHOT_PREFIX")
	setDuration(&cfg.Snapshot.Interval, "CASCADE_SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.Keep, "CASCADE_SNAPSHOT_KEEP")

	// ── Server ──
	setInt(&cfg.Server.Port, "CASCADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CASCADE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "CASCADE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CASCADE_SERVER_RATE_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.Mode, "CASCADE_AUTH_MODE")
	setDuration(&cfg.Auth.MaxSkew, "CASCADE_AUTH_MAX_SKEW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIURL, "CASCADE_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.TelegramToken, "CASCADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASCADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASCADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CASCADE_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Level, "CASCADE_LOG_LEVEL")
	setStr(&cfg.Log.File, "CASCADE_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "CASCADE_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
