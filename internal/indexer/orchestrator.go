package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// fillsChannel is the signal-bus channel newly committed fills are published
// on, as JSON arrays of domain.Fill.
const fillsChannel = "fills"

// LogSource abstracts the range fetcher so orchestrator tests can drive the
// loop without a chain.Fetcher.
type LogSource interface {
	FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Config tunes the sync orchestrator.
type Config struct {
	ChainID int64

	// GenesisBlock is where indexing starts when no checkpoint exists.
	GenesisBlock uint64

	// Confirmations is how many blocks the checkpoint stays behind the
	// observed head. Fills inside this window are provisional.
	Confirmations uint64

	// BatchSize is the maximum number of blocks committed per batch.
	BatchSize uint64

	// PollInterval is the idle wait between head checks once caught up.
	PollInterval time.Duration

	// MaxConsecutiveFailures bounds ERROR_BACKOFF loops before Sync fails.
	MaxConsecutiveFailures int

	// BackoffBase and BackoffCap shape the ERROR_BACKOFF delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Continuous keeps Sync polling after catch-up instead of returning.
	Continuous bool

	// LockTTL is the distributed sync lock lifetime when a LockManager is
	// wired. It must comfortably exceed one batch round-trip.
	LockTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Confirmations == 0 {
		c.Confirmations = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 5000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 10
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 2 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
}

// Orchestrator drives the fetch → decode → store loop for one chain scope.
// State transitions are serialized: a single goroutine processes one range
// at a time, so the checkpoint can never race with itself. Separate scopes
// run their own orchestrators independently.
type Orchestrator struct {
	chain       chain.Reader
	source      LogSource
	decoder     *Decoder
	fills       domain.FillStore
	checkpoints domain.CheckpointStore
	locks       domain.LockManager // optional
	bus         domain.SignalBus   // optional
	cfg         Config
	logger      *slog.Logger

	mu         sync.RWMutex
	state      domain.SyncState
	lastResult *domain.SyncResult
}

// NewOrchestrator wires an Orchestrator. locks and bus may be nil.
func NewOrchestrator(
	reader chain.Reader,
	source LogSource,
	decoder *Decoder,
	fills domain.FillStore,
	checkpoints domain.CheckpointStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		chain:       reader,
		source:      source,
		decoder:     decoder,
		fills:       fills,
		checkpoints: checkpoints,
		locks:       locks,
		bus:         bus,
		cfg:         cfg,
		state:       domain.StateStopped,
		logger:      logger.With(slog.String("component", "orchestrator"), slog.Int64("chain_id", cfg.ChainID)),
	}
}

// State returns the current sync state.
func (o *Orchestrator) State() domain.SyncState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastResult returns the result of the most recent completed Sync, or nil.
func (o *Orchestrator) LastResult() *domain.SyncResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastResult == nil {
		return nil
	}
	r := *o.lastResult
	return &r
}

func (o *Orchestrator) setState(s domain.SyncState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Sync runs the indexing loop: one full catch-up pass, or indefinitely when
// configured as continuous. Cancellation is honoured between ranges; the
// checkpoint is always left at the last fully committed batch.
//
// Only storage failures and exhausted retries propagate as errors. Decode
// failures and reorgs are handled internally and counted in the result.
func (o *Orchestrator) Sync(ctx context.Context) (domain.SyncResult, error) {
	result := domain.SyncResult{RunID: uuid.New().String()}
	logger := o.logger.With(slog.String("run_id", result.RunID))

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, o.lockKey(), o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return result, fmt.Errorf("indexer: another sync holds the lock for chain %d: %w", o.cfg.ChainID, err)
			}
			return result, fmt.Errorf("indexer: acquire sync lock: %w", err)
		}
		defer unlock()
	}

	o.setState(domain.StateInitializing)
	defer func() {
		o.setState(domain.StateStopped)
		o.mu.Lock()
		r := result
		o.lastResult = &r
		o.mu.Unlock()
	}()

	cp, err := o.checkpoints.Read(ctx, o.cfg.ChainID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return result, fmt.Errorf("indexer: read checkpoint: %w", err)
	}

	next := o.cfg.GenesisBlock
	if cp != nil {
		next = cp.LastSyncedBlock + 1
	}
	result.FromBlock = next

	logger.Info("sync starting",
		slog.Uint64("from_block", next),
		slog.Bool("continuous", o.cfg.Continuous),
		slog.Uint64("confirmations", o.cfg.Confirmations),
	)

	failures := 0
	tsCache := map[uint64]time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("sync cancelled", slog.Uint64("next_block", next))
			result.FinalState = domain.StateStopped
			return result, nil
		}

		head, err := o.chain.HeadBlock(ctx)
		if err != nil {
			if fatal, ferr := o.backoff(ctx, &failures, err, logger); fatal {
				result.FinalState = domain.StateErrorBackoff
				return result, ferr
			}
			continue
		}

		// Reorg check: re-validate the checkpointed block hash before
		// trusting it as a parent for new work.
		if cp != nil {
			canonical, err := o.chain.BlockHash(ctx, cp.LastSyncedBlock)
			if err != nil {
				if fatal, ferr := o.backoff(ctx, &failures, err, logger); fatal {
					result.FinalState = domain.StateErrorBackoff
					return result, ferr
				}
				continue
			}
			if canonical != cp.LastSyncedBlockHash {
				rolledBack, err := o.rollback(ctx, cp, logger)
				if err != nil {
					result.FinalState = domain.StateErrorBackoff
					return result, err
				}
				result.ReorgsHandled++
				cp = rolledBack
				next = cp.LastSyncedBlock + 1
				clear(tsCache)
				continue
			}
		}

		// A block is only final once it sits Confirmations behind the
		// head. Until the chain is that tall there is no target at all;
		// even block 0 would still be provisional.
		hasTarget := head >= o.cfg.Confirmations
		var target uint64
		if hasTarget {
			target = head - o.cfg.Confirmations
		}

		if !hasTarget || next > target {
			if !o.cfg.Continuous {
				logger.Info("caught up, stopping",
					slog.Uint64("head", head),
					slog.Uint64("target", target),
				)
				result.FinalState = domain.StateStopped
				return result, nil
			}
			o.setState(domain.StatePolling)
			if err := sleepCtx(ctx, o.cfg.PollInterval); err != nil {
				result.FinalState = domain.StateStopped
				return result, nil
			}
			continue
		}

		o.setState(domain.StateCatchingUp)
		to := min(next+o.cfg.BatchSize-1, target)

		logs, err := o.source.FetchRange(ctx, next, to)
		if err != nil {
			if fatal, ferr := o.backoff(ctx, &failures, err, logger); fatal {
				result.FinalState = domain.StateErrorBackoff
				return result, ferr
			}
			continue
		}

		fills, skipped, err := o.decodeBatch(ctx, logs, tsCache)
		if err != nil {
			if fatal, ferr := o.backoff(ctx, &failures, err, logger); fatal {
				result.FinalState = domain.StateErrorBackoff
				return result, ferr
			}
			continue
		}
		result.DecodeErrorsSkipped += skipped

		toHash, err := o.chain.BlockHash(ctx, to)
		if err != nil {
			if fatal, ferr := o.backoff(ctx, &failures, err, logger); fatal {
				result.FinalState = domain.StateErrorBackoff
				return result, ferr
			}
			continue
		}

		newCp := domain.Checkpoint{
			ChainID:             o.cfg.ChainID,
			LastSyncedBlock:     to,
			LastSyncedBlockHash: toHash,
			UpdatedAt:           time.Now().UTC(),
		}

		written, err := o.fills.CommitBatch(ctx, fills, newCp)
		if err != nil {
			// Storage failures are fatal to this Sync call; the
			// checkpoint was not advanced.
			result.FinalState = domain.StateErrorBackoff
			return result, fmt.Errorf("indexer: commit batch [%d, %d]: %w", next, to, err)
		}

		o.publishFills(ctx, fills, logger)

		logger.Info("batch committed",
			slog.Uint64("from", next),
			slog.Uint64("to", to),
			slog.Int64("fills", written),
			slog.Int64("skipped", skipped),
		)

		result.BlocksProcessed += to - next + 1
		result.FillsWritten += written
		result.ToBlock = to
		failures = 0
		cp = &newCp
		next = to + 1

		// Keep the timestamp cache from growing across a long backfill.
		if len(tsCache) > 4096 {
			clear(tsCache)
		}
	}
}

// decodeBatch decodes fetched logs in order, caching block timestamps and
// skipping per-log decode failures.
func (o *Orchestrator) decodeBatch(ctx context.Context, logs []types.Log, tsCache map[uint64]time.Time) ([]domain.Fill, int64, error) {
	var (
		fills   []domain.Fill
		skipped int64
	)
	for _, raw := range logs {
		ts, ok := tsCache[raw.BlockNumber]
		if !ok {
			var err error
			ts, err = o.chain.BlockTimestamp(ctx, raw.BlockNumber)
			if err != nil {
				return nil, skipped, err
			}
			tsCache[raw.BlockNumber] = ts
		}

		fill, err := o.decoder.Decode(ctx, raw, ts)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				skipped++
				o.logger.Warn("skipping undecodable log",
					slog.String("tx_hash", decodeErr.TxHash),
					slog.Uint64("log_index", uint64(decodeErr.LogIndex)),
					slog.String("reason", decodeErr.Reason),
				)
				continue
			}
			return nil, skipped, err
		}
		fills = append(fills, fill)
	}
	return fills, skipped, nil
}

// rollback recovers from a detected reorg. The rollback point is the
// checkpointed block minus the confirmation depth: everything above it is
// deleted and re-indexed, everything at or below it has aged past the
// window and is trusted.
func (o *Orchestrator) rollback(ctx context.Context, cp *domain.Checkpoint, logger *slog.Logger) (*domain.Checkpoint, error) {
	var point uint64
	if cp.LastSyncedBlock >= o.cfg.Confirmations {
		point = cp.LastSyncedBlock - o.cfg.Confirmations
	}
	if point < o.cfg.GenesisBlock {
		point = o.cfg.GenesisBlock
	}

	logger.Warn("reorg detected, rolling back",
		slog.Uint64("checkpoint_block", cp.LastSyncedBlock),
		slog.String("checkpoint_hash", cp.LastSyncedBlockHash),
		slog.Uint64("rollback_point", point),
	)

	hash, err := o.chain.BlockHash(ctx, point)
	if err != nil {
		return nil, fmt.Errorf("indexer: fetch rollback point hash: %w", err)
	}
	reset := domain.Checkpoint{
		ChainID:             o.cfg.ChainID,
		LastSyncedBlock:     point,
		LastSyncedBlockHash: hash,
		UpdatedAt:           time.Now().UTC(),
	}
	deleted, err := o.fills.RollbackToBlock(ctx, reset)
	if err != nil {
		return nil, fmt.Errorf("indexer: rollback to block %d: %w", point, err)
	}

	logger.Info("rollback complete",
		slog.Uint64("rollback_point", point),
		slog.Int64("fills_deleted", deleted),
	)
	return &reset, nil
}

// backoff handles a recoverable loop failure: it waits an exponentially
// growing, jittered interval and reports whether the consecutive-failure
// budget is exhausted.
func (o *Orchestrator) backoff(ctx context.Context, failures *int, cause error, logger *slog.Logger) (bool, error) {
	if errors.Is(cause, context.Canceled) {
		return false, nil
	}

	*failures++
	if *failures >= o.cfg.MaxConsecutiveFailures {
		return true, fmt.Errorf("indexer: %d consecutive failures, giving up: %w", *failures, cause)
	}

	o.setState(domain.StateErrorBackoff)
	delay := o.cfg.BackoffBase << (*failures - 1)
	if delay <= 0 || delay > o.cfg.BackoffCap {
		delay = o.cfg.BackoffCap
	}
	delay += time.Duration(rand.Int64N(int64(delay)/4 + 1))

	logger.Warn("sync error, backing off",
		slog.Int("consecutive_failures", *failures),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	_ = sleepCtx(ctx, delay)
	return false, nil
}

func (o *Orchestrator) publishFills(ctx context.Context, fills []domain.Fill, logger *slog.Logger) {
	if o.bus == nil || len(fills) == 0 {
		return
	}
	payload, err := json.Marshal(fills)
	if err != nil {
		logger.Warn("marshal fills for publish", slog.String("error", err.Error()))
		return
	}
	if err := o.bus.Publish(ctx, fillsChannel, payload); err != nil {
		logger.Warn("publish fills", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) lockKey() string {
	return fmt.Sprintf("sync:%d", o.cfg.ChainID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
