package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

const checkpointUpsertQuery = `
	INSERT INTO checkpoints (chain_id, last_synced_block, last_synced_block_hash, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (chain_id) DO UPDATE SET
		last_synced_block = EXCLUDED.last_synced_block,
		last_synced_block_hash = EXCLUDED.last_synced_block_hash,
		updated_at = NOW()`

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Read returns the checkpoint for a chain, or domain.ErrNotFound when no
// sync has been recorded yet.
func (s *CheckpointStore) Read(ctx context.Context, chainID int64) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT chain_id, last_synced_block, last_synced_block_hash, updated_at
		FROM checkpoints WHERE chain_id = $1`, chainID,
	).Scan(&cp.ChainID, &cp.LastSyncedBlock, &cp.LastSyncedBlockHash, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read checkpoint: %w", err)
	}
	return &cp, nil
}

// Advance upserts the checkpoint row for the chain.
func (s *CheckpointStore) Advance(ctx context.Context, cp domain.Checkpoint) error {
	if _, err := s.pool.Exec(ctx, checkpointUpsertQuery,
		cp.ChainID, cp.LastSyncedBlock, cp.LastSyncedBlockHash,
	); err != nil {
		return fmt.Errorf("postgres: advance checkpoint: %w", err)
	}
	return nil
}
