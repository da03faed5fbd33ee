package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

func testFill(block uint64, index uint32) domain.Fill {
	return domain.Fill{
		ChainID:           137,
		Exchange:          "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e",
		BlockNumber:       block,
		TxHash:            fmt.Sprintf("0x%064x", block),
		LogIndex:          index,
		Timestamp:         time.Unix(1_700_000_000+int64(block), 0).UTC(),
		Maker:             "0xmaker",
		Taker:             "0xtaker",
		MakerAssetID:      "123",
		TakerAssetID:      "0",
		MakerAmountFilled: "1000000",
		TakerAmountFilled: "650000",
		Fee:               "0",
		TokenID:           "123",
		Price:             0.65,
		Side:              domain.SideBuy,
	}
}

func testCheckpoint(block uint64) domain.Checkpoint {
	return domain.Checkpoint{
		ChainID:             137,
		LastSyncedBlock:     block,
		LastSyncedBlockHash: fmt.Sprintf("0x%064x", block),
		UpdatedAt:           time.Now().UTC(),
	}
}

func TestUpsertSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	written, err := s.Upsert(ctx, []domain.Fill{testFill(10, 0), testFill(10, 1)})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if written != 2 {
		t.Errorf("written = %d, want 2", written)
	}

	written, err = s.Upsert(ctx, []domain.Fill{testFill(10, 0), testFill(11, 0)})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1 (one duplicate)", written)
	}

	count, err := s.Count(ctx, 137)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestCommitBatchAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := New()

	written, err := s.CommitBatch(ctx, []domain.Fill{testFill(10, 0)}, testCheckpoint(20))
	if err != nil {
		t.Fatalf("CommitBatch() error: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1", written)
	}

	cp, err := s.Read(ctx, 137)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if cp.LastSyncedBlock != 20 {
		t.Errorf("LastSyncedBlock = %d, want 20", cp.LastSyncedBlock)
	}

	// An empty batch still moves the checkpoint forward.
	if _, err := s.CommitBatch(ctx, nil, testCheckpoint(30)); err != nil {
		t.Fatalf("CommitBatch() error: %v", err)
	}
	cp, err = s.Read(ctx, 137)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if cp.LastSyncedBlock != 30 {
		t.Errorf("LastSyncedBlock = %d, want 30", cp.LastSyncedBlock)
	}
}

func TestRollbackToBlock(t *testing.T) {
	ctx := context.Background()
	s := New()

	fills := []domain.Fill{testFill(10, 0), testFill(20, 0), testFill(30, 0), testFill(31, 0)}
	if _, err := s.CommitBatch(ctx, fills, testCheckpoint(40)); err != nil {
		t.Fatalf("CommitBatch() error: %v", err)
	}

	deleted, err := s.RollbackToBlock(ctx, testCheckpoint(20))
	if err != nil {
		t.Fatalf("RollbackToBlock() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, err := s.Query(ctx, domain.FillFilter{ChainID: 137})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("len(remaining) = %d, want 2", len(remaining))
	}
	for _, f := range remaining {
		if f.BlockNumber > 20 {
			t.Errorf("fill at block %d survived rollback to 20", f.BlockNumber)
		}
	}

	cp, err := s.Read(ctx, 137)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if cp.LastSyncedBlock != 20 {
		t.Errorf("LastSyncedBlock = %d, want 20", cp.LastSyncedBlock)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := testFill(10, 0)
	a.Maker = "0xaaa"
	a.TokenID = "111"
	a.ConditionID = "0xc1"

	b := testFill(20, 0)
	b.Taker = "0xaaa"
	b.TokenID = "222"
	b.ConditionID = "0xc2"

	c := testFill(30, 0)
	c.TokenID = "222"
	c.ConditionID = "0xc2"

	if _, err := s.Upsert(ctx, []domain.Fill{a, b, c}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := s.Query(ctx, domain.FillFilter{ChainID: 137, TokenID: "222"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("token filter: got %d fills, want 2", len(got))
	}

	got, err = s.Query(ctx, domain.FillFilter{ChainID: 137, ConditionID: "0xc1"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 || got[0].BlockNumber != 10 {
		t.Errorf("condition filter: got %+v, want the block-10 fill", got)
	}

	// Address matches either side of the fill.
	got, err = s.Query(ctx, domain.FillFilter{ChainID: 137, Address: "0xaaa"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("address filter: got %d fills, want 2", len(got))
	}

	got, err = s.Query(ctx, domain.FillFilter{ChainID: 1})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("foreign chain: got %d fills, want 0", len(got))
	}
}

func TestQueryTimeWindow(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Upsert(ctx, []domain.Fill{testFill(10, 0), testFill(20, 0), testFill(30, 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	since := testFill(20, 0).Timestamp
	until := testFill(20, 0).Timestamp

	got, err := s.Query(ctx, domain.FillFilter{ChainID: 137, Since: &since})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("since filter: got %d fills, want 2", len(got))
	}

	got, err = s.Query(ctx, domain.FillFilter{ChainID: 137, Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 || got[0].BlockNumber != 20 {
		t.Errorf("window filter: got %+v, want the block-20 fill", got)
	}
}

func TestQueryOrderingAndPagination(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Insert out of order, including two fills in the same block.
	fills := []domain.Fill{testFill(30, 0), testFill(10, 1), testFill(10, 0), testFill(20, 0)}
	if _, err := s.Upsert(ctx, fills); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := s.Query(ctx, domain.FillFilter{ChainID: 137})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	wantOrder := []struct {
		block uint64
		index uint32
	}{{10, 0}, {10, 1}, {20, 0}, {30, 0}}
	if len(got) != len(wantOrder) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(wantOrder))
	}
	for i, w := range wantOrder {
		if got[i].BlockNumber != w.block || got[i].LogIndex != w.index {
			t.Errorf("position %d = (%d, %d), want (%d, %d)",
				i, got[i].BlockNumber, got[i].LogIndex, w.block, w.index)
		}
	}

	got, err = s.Query(ctx, domain.FillFilter{ChainID: 137, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 || got[0].LogIndex != 1 || got[1].BlockNumber != 20 {
		t.Errorf("page = %+v, want fills (10,1) and (20,0)", got)
	}

	got, err = s.Query(ctx, domain.FillFilter{ChainID: 137, Offset: 10})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("offset past end: got %d fills, want 0", len(got))
	}
}

func TestListAndDeleteBefore(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Upsert(ctx, []domain.Fill{testFill(10, 0), testFill(20, 0), testFill(30, 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	cutoff := testFill(30, 0).Timestamp

	old, err := s.ListBefore(ctx, 137, cutoff)
	if err != nil {
		t.Fatalf("ListBefore() error: %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("len(old) = %d, want 2", len(old))
	}
	if old[0].BlockNumber != 10 || old[1].BlockNumber != 20 {
		t.Errorf("old fills out of order: %+v", old)
	}

	deleted, err := s.DeleteBefore(ctx, 137, cutoff)
	if err != nil {
		t.Fatalf("DeleteBefore() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, err := s.Count(ctx, 137)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestCheckpointReadNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Read(ctx, 137); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Read() error = %v, want ErrNotFound", err)
	}

	if err := s.Advance(ctx, testCheckpoint(42)); err != nil {
		t.Fatalf("Advance() error: %v", err)
	}

	cp, err := s.Read(ctx, 137)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if cp.LastSyncedBlock != 42 {
		t.Errorf("LastSyncedBlock = %d, want 42", cp.LastSyncedBlock)
	}
}
