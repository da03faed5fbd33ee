package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/indexer"
	"github.com/alanyoungcy/polyindexer/internal/platform/gamma"
	"github.com/alanyoungcy/polyindexer/internal/server"
	"github.com/alanyoungcy/polyindexer/internal/server/handler"
	"github.com/alanyoungcy/polyindexer/internal/server/ws"
	"github.com/alanyoungcy/polyindexer/internal/service"
)

// resolveGenesisBlock turns the configured start point into a block number.
// With chain.start_time set, the first block at or after that instant is
// found by binary search; otherwise chain.genesis_block is used as-is.
func (a *App) resolveGenesisBlock(ctx context.Context, deps *Dependencies) (uint64, error) {
	if a.cfg.Chain.StartTime == "" {
		return a.cfg.Chain.GenesisBlock, nil
	}

	start, err := time.Parse(time.RFC3339, a.cfg.Chain.StartTime)
	if err != nil {
		return 0, fmt.Errorf("app: parse chain.start_time: %w", err)
	}
	genesis, err := chain.BlockByTimestamp(ctx, deps.ChainClient, start)
	if err != nil {
		return 0, fmt.Errorf("app: resolve start block for %s: %w", a.cfg.Chain.StartTime, err)
	}

	a.logger.InfoContext(ctx, "resolved start block from timestamp",
		slog.String("start_time", a.cfg.Chain.StartTime),
		slog.Uint64("genesis_block", genesis),
	)
	return genesis, nil
}

// buildOrchestrator assembles the fetch/decode/commit pipeline from the
// wired dependencies.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies, continuous bool) (*indexer.Orchestrator, error) {
	genesis, err := a.resolveGenesisBlock(ctx, deps)
	if err != nil {
		return nil, err
	}

	fetcher := chain.NewFetcher(
		deps.ChainClient,
		chain.RetryPolicy{
			MaxAttempts: a.cfg.Fetcher.MaxRetries,
			BackoffBase: a.cfg.Fetcher.BackoffBase.Duration,
			BackoffCap:  a.cfg.Fetcher.BackoffCap.Duration,
		},
		chain.FetcherConfig{
			ChunkSize:     a.cfg.Fetcher.ChunkSize,
			MinChunkSize:  a.cfg.Fetcher.MinChunkSize,
			MaxConcurrent: a.cfg.Fetcher.MaxConcurrent,
		},
		a.logger,
	)

	var resolver domain.MarketResolver
	if a.cfg.Chain.GammaHost != "" {
		resolver = gamma.NewClient(a.cfg.Chain.GammaHost, deps.RateLimiter)
		if deps.ConditionCache != nil {
			resolver = service.NewCachingResolver(resolver, deps.ConditionCache, a.logger)
		}
	}

	decoder := indexer.NewDecoder(a.cfg.Chain.ChainID, resolver, a.logger)

	orch := indexer.NewOrchestrator(
		deps.ChainClient,
		fetcher,
		decoder,
		deps.Fills,
		deps.Checkpoints,
		deps.LockManager,
		deps.SignalBus,
		indexer.Config{
			ChainID:                a.cfg.Chain.ChainID,
			GenesisBlock:           genesis,
			Confirmations:          a.cfg.Chain.Confirmations,
			BatchSize:              a.cfg.Sync.BatchSize,
			PollInterval:           a.cfg.Sync.PollInterval.Duration,
			MaxConsecutiveFailures: a.cfg.Sync.MaxConsecutiveFailures,
			BackoffBase:            a.cfg.Sync.BackoffBase.Duration,
			BackoffCap:             a.cfg.Sync.BackoffCap.Duration,
			LockTTL:                a.cfg.Sync.LockTTL.Duration,
			Continuous:             continuous,
		},
		a.logger,
	)
	return orch, nil
}

// buildServer assembles the HTTP API and WebSocket hub. The returned hub is
// nil when no signal bus is available.
func (a *App) buildServer(deps *Dependencies, sync handler.SyncStatusProvider) (*server.Server, *ws.Hub) {
	fillSvc := service.NewFillService(deps.Fills, deps.Checkpoints, a.logger)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Chain.ChainID, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:         a.cfg.Server.Port,
			CORSOrigins:  a.cfg.Server.CORSOrigins,
			APIKey:       a.cfg.Server.APIKey,
			RateLimit:    a.cfg.Server.RateLimitPerSec,
			RateLimitWin: time.Second,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Fills:  handler.NewFillHandler(fillSvc, a.cfg.Chain.ChainID, a.logger),
			Sync:   handler.NewSyncHandler(sync),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)
	return srv, hub
}

// runArchiver periodically exports fills older than the retention window to
// blob storage. It exits when the context is cancelled.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := deps.Archiver.ArchiveFills(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived fills",
					slog.Int64("count", count),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// SyncMode catches up to the confirmed head once and exits.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	orch, err := a.buildOrchestrator(ctx, deps, false)
	if err != nil {
		return err
	}
	result, err := orch.Sync(ctx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "sync complete",
		slog.Uint64("from_block", result.FromBlock),
		slog.Uint64("to_block", result.ToBlock),
		slog.Int64("fills_written", result.FillsWritten),
		slog.Int("reorgs_handled", result.ReorgsHandled),
	)
	return nil
}

// FollowMode syncs continuously without the HTTP API.
func (a *App) FollowMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting follow mode")

	orch, err := a.buildOrchestrator(ctx, deps, true)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := orch.Sync(ctx)
		return err
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return ignoreCancel(g.Wait())
}

// ServeMode runs only the HTTP API over an existing database.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	srv, hub := a.buildServer(deps, nil)

	g, ctx := errgroup.WithContext(ctx)

	if hub != nil {
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return ignoreCancel(g.Wait())
}

// FullMode runs the indexer and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	orch, err := a.buildOrchestrator(ctx, deps, true)
	if err != nil {
		return err
	}
	srv, hub := a.buildServer(deps, orch)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := orch.Sync(ctx)
		return err
	})
	if hub != nil {
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return ignoreCancel(g.Wait())
}

// ignoreCancel maps context cancellation to a clean exit; a ctrl-c shutdown
// is not an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
