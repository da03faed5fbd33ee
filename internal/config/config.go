// Package config defines the top-level configuration for the fill indexer
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYINDEXER_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Fetcher  FetcherConfig  `toml:"fetcher"`
	Sync     SyncConfig     `toml:"sync"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and on-chain parameters.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	ChainID            int64    `toml:"chain_id"`
	ExchangeAddresses  []string `toml:"exchange_addresses"`
	Confirmations      uint64   `toml:"confirmations"`
	GenesisBlock       uint64   `toml:"genesis_block"`
	RateLimitPerSecond int      `toml:"rate_limit_per_second"`

	// StartTime is an RFC 3339 alternative to GenesisBlock: the first
	// block at or after this instant is resolved at startup and indexing
	// begins there. Mutually exclusive with a non-zero GenesisBlock.
	StartTime string `toml:"start_time"`

	// GammaHost enables condition-id resolution through the Gamma API when
	// non-empty. Fills keep an empty condition_id without it.
	GammaHost string `toml:"gamma_host"`
}

// FetcherConfig controls log fetching: chunk sizing, bisection floor,
// concurrency, and retry behavior.
type FetcherConfig struct {
	ChunkSize     uint64   `toml:"chunk_size"`
	MinChunkSize  uint64   `toml:"min_chunk_size"`
	MaxConcurrent int      `toml:"max_concurrent"`
	MaxRetries    int      `toml:"max_retries"`
	BackoffBase   duration `toml:"backoff_base"`
	BackoffCap    duration `toml:"backoff_cap"`
}

// SyncConfig controls the orchestrator loop.
type SyncConfig struct {
	BatchSize              uint64   `toml:"batch_size"`
	PollInterval           duration `toml:"poll_interval"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	BackoffBase            duration `toml:"backoff_base"`
	BackoffCap             duration `toml:"backoff_cap"`
	LockTTL                duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// Addr is empty the indexer runs without distributed locking, rate limiting,
// and the fill broadcast channel.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage export of aged fills.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding via encoding.TextUnmarshaler, so config files can write "5m" or
// "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultExchangeAddresses are the Polygon CTF exchange contracts that emit
// OrderFilled: the main CTFExchange and the NegRiskCtfExchange.
var DefaultExchangeAddresses = []string{
	"0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e",
	"0xc5d563a36ae78145c45a50134d48a1215220f80a",
}

// Defaults returns the built-in configuration. Polygon mainnet, both
// exchange contracts, and conservative fetch parameters.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:            137,
			ExchangeAddresses:  append([]string(nil), DefaultExchangeAddresses...),
			Confirmations:      10,
			RateLimitPerSecond: 0,
		},
		Fetcher: FetcherConfig{
			ChunkSize:     1000,
			MinChunkSize:  1,
			MaxConcurrent: 4,
			MaxRetries:    5,
			BackoffBase:   duration{500 * time.Millisecond},
			BackoffCap:    duration{30 * time.Second},
		},
		Sync: SyncConfig{
			BatchSize:              5000,
			PollInterval:           duration{10 * time.Second},
			MaxConsecutiveFailures: 10,
			BackoffBase:            duration{time.Second},
			BackoffCap:             duration{2 * time.Minute},
			LockTTL:                duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyindexer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerSec: 0,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":   true, // catch up to head once, then exit
	"follow": true, // sync continuously, no HTTP API
	"serve":  true, // HTTP API only, no indexing
	"full":   true, // indexing and HTTP API
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, follow, serve, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain parameters matter in every mode that indexes.
	needsChain := mode != "serve"
	if needsChain {
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+mode)
		}
		if len(c.Chain.ExchangeAddresses) == 0 {
			errs = append(errs, "chain: exchange_addresses must not be empty")
		}
		for _, addr := range c.Chain.ExchangeAddresses {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("chain: invalid exchange address %q", addr))
			}
		}
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Chain.StartTime); err != nil {
			errs = append(errs, fmt.Sprintf("chain: start_time %q is not RFC 3339", c.Chain.StartTime))
		}
		if c.Chain.GenesisBlock != 0 {
			errs = append(errs, "chain: set either genesis_block or start_time, not both")
		}
	}

	if c.Fetcher.ChunkSize < 1 {
		errs = append(errs, "fetcher: chunk_size must be >= 1")
	}
	if c.Fetcher.MinChunkSize < 1 {
		errs = append(errs, "fetcher: min_chunk_size must be >= 1")
	}
	if c.Fetcher.MinChunkSize > c.Fetcher.ChunkSize {
		errs = append(errs, "fetcher: min_chunk_size must not exceed chunk_size")
	}
	if c.Fetcher.MaxConcurrent < 1 {
		errs = append(errs, "fetcher: max_concurrent must be >= 1")
	}

	if c.Sync.BatchSize < 1 {
		errs = append(errs, "sync: batch_size must be >= 1")
	}
	if c.Sync.PollInterval.Duration <= 0 {
		errs = append(errs, "sync: poll_interval must be > 0")
	}

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

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving is enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if mode == "serve" || mode == "full" {
		if !c.Server.Enabled {
			errs = append(errs, "server: must be enabled for mode "+mode)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
