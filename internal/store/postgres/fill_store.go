package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `chain_id, exchange, block_number, tx_hash, log_index, ts,
	order_hash, maker, taker, maker_asset_id, taker_asset_id,
	maker_amount_filled, taker_amount_filled, fee,
	token_id, condition_id, price, side`

const fillInsertQuery = `
	INSERT INTO fills (
		chain_id, exchange, block_number, tx_hash, log_index, ts,
		order_hash, maker, taker, maker_asset_id, taker_asset_id,
		maker_amount_filled, taker_amount_filled, fee,
		token_id, condition_id, price, side
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14,
		$15, $16, $17, $18
	) ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`

func queueFill(batch *pgx.Batch, f domain.Fill) {
	batch.Queue(fillInsertQuery,
		f.ChainID, f.Exchange, f.BlockNumber, f.TxHash, f.LogIndex, f.Timestamp,
		f.OrderHash, f.Maker, f.Taker, f.MakerAssetID, f.TakerAssetID,
		f.MakerAmountFilled, f.TakerAmountFilled, f.Fee,
		f.TokenID, f.ConditionID, f.Price, string(f.Side),
	)
}

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(
			&f.ChainID, &f.Exchange, &f.BlockNumber, &f.TxHash, &f.LogIndex,
			&f.Timestamp, &f.OrderHash, &f.Maker, &f.Taker,
			&f.MakerAssetID, &f.TakerAssetID,
			&f.MakerAmountFilled, &f.TakerAmountFilled, &f.Fee,
			&f.TokenID, &f.ConditionID, &f.Price, &side,
		); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Upsert inserts fills, silently skipping rows whose (chain_id, tx_hash,
// log_index) key already exists. It returns the number of rows actually
// written.
func (s *FillStore) Upsert(ctx context.Context, fills []domain.Fill) (int64, error) {
	if len(fills) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, f := range fills {
		queueFill(batch, f)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var written int64
	for i := range fills {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("postgres: upsert fill batch item %d: %w", i, err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// CommitBatch writes fills and advances the checkpoint in a single
// transaction, so a crash never leaves fills persisted past the recorded
// checkpoint or vice versa.
func (s *FillStore) CommitBatch(ctx context.Context, fills []domain.Fill, cp domain.Checkpoint) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin commit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	var written int64
	if len(fills) > 0 {
		batch := &pgx.Batch{}
		for _, f := range fills {
			queueFill(batch, f)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range fills {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return 0, fmt.Errorf("postgres: commit batch item %d: %w", i, err)
			}
			written += tag.RowsAffected()
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("postgres: close commit batch: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, checkpointUpsertQuery,
		cp.ChainID, cp.LastSyncedBlock, cp.LastSyncedBlockHash,
	); err != nil {
		return 0, fmt.Errorf("postgres: advance checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit batch: %w", err)
	}
	return written, nil
}

// RollbackToBlock deletes all fills above the checkpoint's block and resets
// the checkpoint, transactionally. It returns the number of fills deleted.
func (s *FillStore) RollbackToBlock(ctx context.Context, cp domain.Checkpoint) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin rollback: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"DELETE FROM fills WHERE chain_id = $1 AND block_number > $2",
		cp.ChainID, cp.LastSyncedBlock,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rolled-back fills: %w", err)
	}

	if _, err := tx.Exec(ctx, checkpointUpsertQuery,
		cp.ChainID, cp.LastSyncedBlock, cp.LastSyncedBlockHash,
	); err != nil {
		return 0, fmt.Errorf("postgres: reset checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit rollback: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Query returns fills matching the filter, ordered by (block_number,
// log_index) ascending.
func (s *FillStore) Query(ctx context.Context, filter domain.FillFilter) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE chain_id = $1`
	args := []any{filter.ChainID}
	argIdx := 2

	if filter.ConditionID != "" {
		query += fmt.Sprintf(" AND condition_id = $%d", argIdx)
		args = append(args, filter.ConditionID)
		argIdx++
	}
	if filter.TokenID != "" {
		query += fmt.Sprintf(" AND token_id = $%d", argIdx)
		args = append(args, filter.TokenID)
		argIdx++
	}
	if filter.Maker != "" {
		query += fmt.Sprintf(" AND maker = $%d", argIdx)
		args = append(args, filter.Maker)
		argIdx++
	}
	if filter.Taker != "" {
		query += fmt.Sprintf(" AND taker = $%d", argIdx)
		args = append(args, filter.Taker)
		argIdx++
	}
	if filter.Address != "" {
		query += fmt.Sprintf(" AND (maker = $%d OR taker = $%d)", argIdx, argIdx)
		args = append(args, filter.Address)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *filter.Until)
		argIdx++
	}

	query += " ORDER BY block_number ASC, log_index ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// ListBefore returns all fills with a timestamp strictly before the cutoff,
// ordered by (block_number, log_index). Used by the archiver.
func (s *FillStore) ListBefore(ctx context.Context, chainID int64, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE chain_id = $1 AND ts < $2
		 ORDER BY block_number ASC, log_index ASC`,
		chainID, before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before: %w", err)
	}
	return fills, nil
}

// DeleteBefore removes all fills with a timestamp strictly before the cutoff
// and returns the number of rows deleted. Used by the archiver after a
// successful export.
func (s *FillStore) DeleteBefore(ctx context.Context, chainID int64, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM fills WHERE chain_id = $1 AND ts < $2",
		chainID, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of fills stored for a chain.
func (s *FillStore) Count(ctx context.Context, chainID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM fills WHERE chain_id = $1", chainID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count fills: %w", err)
	}
	return count, nil
}
