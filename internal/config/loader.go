package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYINDEXER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYINDEXER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POLYINDEXER_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POLYINDEXER_CHAIN_ID")
	setStringSlice(&cfg.Chain.ExchangeAddresses, "POLYINDEXER_CHAIN_EXCHANGE_ADDRESSES")
	setUint64(&cfg.Chain.Confirmations, "POLYINDEXER_CHAIN_CONFIRMATIONS")
	setUint64(&cfg.Chain.GenesisBlock, "POLYINDEXER_CHAIN_GENESIS_BLOCK")
	setStr(&cfg.Chain.StartTime, "POLYINDEXER_CHAIN_START_TIME")
	setInt(&cfg.Chain.RateLimitPerSecond, "POLYINDEXER_CHAIN_RATE_LIMIT_PER_SECOND")
	setStr(&cfg.Chain.GammaHost, "POLYINDEXER_CHAIN_GAMMA_HOST")

	// ── Fetcher ──
	setUint64(&cfg.Fetcher.ChunkSize, "POLYINDEXER_FETCHER_CHUNK_SIZE")
	setUint64(&cfg.Fetcher.MinChunkSize, "POLYINDEXER_FETCHER_MIN_CHUNK_SIZE")
	setInt(&cfg.Fetcher.MaxConcurrent, "POLYINDEXER_FETCHER_MAX_CONCURRENT")
	setInt(&cfg.Fetcher.MaxRetries, "POLYINDEXER_FETCHER_MAX_RETRIES")
	setDuration(&cfg.Fetcher.BackoffBase, "POLYINDEXER_FETCHER_BACKOFF_BASE")
	setDuration(&cfg.Fetcher.BackoffCap, "POLYINDEXER_FETCHER_BACKOFF_CAP")

	// ── Sync ──
	setUint64(&cfg.Sync.BatchSize, "POLYINDEXER_SYNC_BATCH_SIZE")
	setDuration(&cfg.Sync.PollInterval, "POLYINDEXER_SYNC_POLL_INTERVAL")
	setInt(&cfg.Sync.MaxConsecutiveFailures, "POLYINDEXER_SYNC_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Sync.BackoffBase, "POLYINDEXER_SYNC_BACKOFF_BASE")
	setDuration(&cfg.Sync.BackoffCap, "POLYINDEXER_SYNC_BACKOFF_CAP")
	setDuration(&cfg.Sync.LockTTL, "POLYINDEXER_SYNC_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYINDEXER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYINDEXER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYINDEXER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYINDEXER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYINDEXER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYINDEXER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYINDEXER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYINDEXER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYINDEXER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYINDEXER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYINDEXER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYINDEXER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYINDEXER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYINDEXER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYINDEXER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYINDEXER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYINDEXER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYINDEXER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYINDEXER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYINDEXER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYINDEXER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYINDEXER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYINDEXER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYINDEXER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYINDEXER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYINDEXER_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYINDEXER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYINDEXER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYINDEXER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYINDEXER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerSec, "POLYINDEXER_SERVER_RATE_LIMIT_PER_SEC")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYINDEXER_MODE")
	setStr(&cfg.LogLevel, "POLYINDEXER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
