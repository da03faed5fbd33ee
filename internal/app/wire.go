package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/polyindexer/internal/blob/s3"
	"github.com/alanyoungcy/polyindexer/internal/cache/redis"
	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/config"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Fills       domain.FillStore
	Checkpoints domain.CheckpointStore
	FillArchive s3blob.FillArchiveStore

	// Redis-backed infrastructure. All nil when no Redis address is
	// configured; the indexer degrades to single-process operation.
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus
	ConditionCache domain.ConditionCache

	// Chain access. Nil in serve mode.
	ChainClient *chain.Client

	// Blob storage. Nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver
}

// needsChain returns true for modes that index.
func needsChain(mode string) bool {
	return mode != "serve"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	fillStore := postgres.NewFillStore(pool)
	deps.Fills = fillStore
	deps.FillArchive = fillStore
	deps.Checkpoints = postgres.NewCheckpointStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.ConditionCache = redis.NewConditionCache(redisClient)
	}

	// --- Chain client ---
	if needsChain(mode) {
		chainClient, err := chain.Dial(ctx, chain.ClientConfig{
			RPCURL:             cfg.Chain.RPCURL,
			ExchangeAddresses:  cfg.Chain.ExchangeAddresses,
			RateLimitPerSecond: cfg.Chain.RateLimitPerSecond,
		}, deps.RateLimiter)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)
		deps.ChainClient = chainClient
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewFillArchiver(deps.BlobWriter, deps.FillArchive, cfg.Chain.ChainID)
	}

	return deps, cleanup, nil
}
