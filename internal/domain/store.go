package domain

import "context"

// FillStore persists decoded fills. Upserts are idempotent: re-inserting a
// fill whose identity already exists is a no-op, not an error.
type FillStore interface {
	// Upsert inserts the given fills, skipping duplicates. Returns the
	// number of rows actually written.
	Upsert(ctx context.Context, fills []Fill) (int64, error)

	// CommitBatch writes a batch of fills and advances the checkpoint in a
	// single atomic unit. A failure leaves both fills and checkpoint
	// untouched. Returns the number of fills actually written.
	CommitBatch(ctx context.Context, fills []Fill, cp Checkpoint) (int64, error)

	// RollbackToBlock deletes every fill above the checkpoint's block and
	// resets the checkpoint to it, atomically. Used by reorg recovery.
	// Returns the number of fills deleted.
	RollbackToBlock(ctx context.Context, cp Checkpoint) (int64, error)

	// Query returns fills matching the filter, ordered by
	// (block_number, log_index) ascending.
	Query(ctx context.Context, f FillFilter) ([]Fill, error)

	// Count returns the total number of fills stored for a chain.
	Count(ctx context.Context, chainID int64) (int64, error)
}

// CheckpointStore reads and writes the per-chain sync checkpoint.
type CheckpointStore interface {
	// Read returns the checkpoint for the chain, or ErrNotFound when the
	// indexer has never completed a batch.
	Read(ctx context.Context, chainID int64) (*Checkpoint, error)

	// Advance upserts the checkpoint row. Batch commits normally advance
	// the checkpoint through FillStore.CommitBatch instead; Advance exists
	// for seeding and administrative resets.
	Advance(ctx context.Context, cp Checkpoint) error
}
