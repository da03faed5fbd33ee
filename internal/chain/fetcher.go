package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// maxBisectDepth bounds bisection recursion. 2^40 blocks is far beyond any
// range a single FetchRange call will see, so hitting it means the provider
// is rejecting even tiny ranges for another reason.
const maxBisectDepth = 40

// FetcherConfig tunes the log fetcher.
type FetcherConfig struct {
	// ChunkSize is the widest range requested in one eth_getLogs call.
	// Ranges wider than this are pre-split before the provider ever sees
	// them; provider rejections below this size trigger bisection.
	ChunkSize uint64

	// MinChunkSize is the narrowest range bisection will produce. A
	// rejection at or below this width is fatal for the range.
	MinChunkSize uint64

	// MaxConcurrent bounds in-flight eth_getLogs calls for one FetchRange.
	MaxConcurrent int
}

// Fetcher retrieves OrderFilled logs over a block range, splitting the range
// adaptively when the provider rejects it and retrying transient failures.
// A range is only reported once every sub-range has succeeded; partial
// results are never returned.
type Fetcher struct {
	client Reader
	retry  RetryPolicy
	cfg    FetcherConfig
	sem    chan struct{}
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Zero config fields get conservative defaults
// suited to public Polygon gateways.
func NewFetcher(client Reader, retry RetryPolicy, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 1
	}
	if cfg.MinChunkSize > cfg.ChunkSize {
		cfg.MinChunkSize = cfg.ChunkSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Fetcher{
		client: client,
		retry:  retry,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		logger: logger.With(slog.String("component", "fetcher")),
	}
}

// FetchRange returns every OrderFilled log in [fromBlock, toBlock], ordered
// by (block_number, log_index). Sub-ranges may be fetched concurrently but
// the result is deterministic.
func (f *Fetcher) FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("chain: invalid range [%d, %d]: %w", fromBlock, toBlock, domain.ErrInvalidInput)
	}

	g, gctx := errgroup.WithContext(ctx)
	span := toBlock - fromBlock + 1
	chunks := int((span + f.cfg.ChunkSize - 1) / f.cfg.ChunkSize)
	results := make([][]types.Log, chunks)

	for i := 0; i < chunks; i++ {
		start := fromBlock + uint64(i)*f.cfg.ChunkSize
		end := min(start+f.cfg.ChunkSize-1, toBlock)
		g.Go(func() error {
			logs, err := f.fetchChunk(gctx, start, end, 0)
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var logs []types.Log
	for _, r := range results {
		logs = append(logs, r...)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

// fetchChunk fetches one range, bisecting on provider rejection. The two
// halves of a bisection run concurrently under the fetcher-wide semaphore.
func (f *Fetcher) fetchChunk(ctx context.Context, fromBlock, toBlock uint64, depth int) ([]types.Log, error) {
	logs, err := f.filterWithRetry(ctx, fromBlock, toBlock)
	if err == nil {
		return logs, nil
	}
	if !errors.Is(err, ErrRangeTooLarge) {
		return nil, err
	}

	span := toBlock - fromBlock + 1
	if span <= f.cfg.MinChunkSize {
		return nil, fmt.Errorf("chain: provider rejected minimum range [%d, %d]: %w", fromBlock, toBlock, err)
	}
	if depth >= maxBisectDepth {
		return nil, fmt.Errorf("chain: bisection depth exhausted at [%d, %d]: %w", fromBlock, toBlock, err)
	}

	mid := fromBlock + (toBlock-fromBlock)/2
	f.logger.Debug("bisecting log range",
		slog.Uint64("from", fromBlock),
		slog.Uint64("to", toBlock),
		slog.Uint64("mid", mid),
		slog.Int("depth", depth),
	)

	g, gctx := errgroup.WithContext(ctx)
	var left, right []types.Log
	g.Go(func() error {
		var err error
		left, err = f.fetchChunk(gctx, fromBlock, mid, depth+1)
		return err
	})
	g.Go(func() error {
		var err error
		right, err = f.fetchChunk(gctx, mid+1, toBlock, depth+1)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (f *Fetcher) filterWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := f.retry.Do(ctx, func() error {
		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-f.sem }()

		var err error
		logs, err = f.client.FilterLogs(ctx, fromBlock, toBlock)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
