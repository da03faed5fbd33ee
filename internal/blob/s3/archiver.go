package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// FillArchiveStore provides the read and prune access the archiver needs.
// The archiver only requires these two methods, not the full fill store
// interface; the Postgres store satisfies it implicitly.
type FillArchiveStore interface {
	// ListBefore returns all fills with a timestamp strictly before the
	// cutoff, ordered by (block_number, log_index).
	ListBefore(ctx context.Context, chainID int64, before time.Time) ([]domain.Fill, error)

	// DeleteBefore removes all fills with a timestamp strictly before the
	// cutoff and returns the number of rows deleted.
	DeleteBefore(ctx context.Context, chainID int64, before time.Time) (int64, error)
}

// FillArchiver implements domain.Archiver by exporting aged fills to CSV in
// blob storage, then pruning them from the primary store. The upload happens
// first so a failure never loses data, only re-archives it on the next run.
type FillArchiver struct {
	writer  domain.BlobWriter
	store   FillArchiveStore
	chainID int64
}

// NewFillArchiver creates a new FillArchiver.
func NewFillArchiver(writer domain.BlobWriter, store FillArchiveStore, chainID int64) *FillArchiver {
	return &FillArchiver{
		writer:  writer,
		store:   store,
		chainID: chainID,
	}
}

// ArchiveFills exports all fills older than the cutoff to
// archive/fills/{chainID}/{YYYY-MM-DD}.csv and deletes them from the
// primary store. It returns the number of fills archived.
func (a *FillArchiver) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.store.ListBefore(ctx, a.chainID, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	data, err := fillsToCSV(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills encode: %w", err)
	}

	path := fmt.Sprintf("archive/fills/%d/%s.csv", a.chainID, before.UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, a.chainID, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills prune: %w", err)
	}
	return deleted, nil
}

// fillsToCSV converts fills to CSV bytes with a header row.
func fillsToCSV(fills []domain.Fill) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"chain_id",
		"exchange",
		"block_number",
		"tx_hash",
		"log_index",
		"timestamp",
		"order_hash",
		"maker",
		"taker",
		"maker_asset_id",
		"taker_asset_id",
		"maker_amount_filled",
		"taker_amount_filled",
		"fee",
		"token_id",
		"condition_id",
		"price",
		"side",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}

	for _, f := range fills {
		row := []string{
			strconv.FormatInt(f.ChainID, 10),
			f.Exchange,
			strconv.FormatUint(f.BlockNumber, 10),
			f.TxHash,
			strconv.FormatUint(uint64(f.LogIndex), 10),
			f.Timestamp.UTC().Format(time.RFC3339),
			f.OrderHash,
			f.Maker,
			f.Taker,
			f.MakerAssetID,
			f.TakerAssetID,
			f.MakerAmountFilled,
			f.TakerAmountFilled,
			f.Fee,
			f.TokenID,
			f.ConditionID,
			strconv.FormatFloat(f.Price, 'f', -1, 64),
			string(f.Side),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*FillArchiver)(nil)
