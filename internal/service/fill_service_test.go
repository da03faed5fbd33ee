package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/store/memory"
)

func newTestService(t *testing.T, fillCount int) (*FillService, *memory.Store) {
	t.Helper()

	st := memory.New()
	fills := make([]domain.Fill, 0, fillCount)
	for i := 0; i < fillCount; i++ {
		fills = append(fills, domain.Fill{
			ChainID:     137,
			BlockNumber: uint64(i + 1),
			TxHash:      fmt.Sprintf("0x%064x", i+1),
			LogIndex:    0,
			Timestamp:   time.Unix(1_700_000_000+int64(i), 0).UTC(),
			Side:        domain.SideBuy,
		})
	}
	_, err := st.Upsert(context.Background(), fills)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFillService(st, st, logger), st
}

func TestGetFillsAppliesDefaultLimit(t *testing.T) {
	svc, _ := newTestService(t, 80)

	fills, err := svc.GetFills(context.Background(), domain.FillFilter{ChainID: 137})
	require.NoError(t, err)
	assert.Len(t, fills, defaultQueryLimit)
	assert.Equal(t, uint64(1), fills[0].BlockNumber)
}

func TestGetFillsCapsLimit(t *testing.T) {
	svc, _ := newTestService(t, 600)

	fills, err := svc.GetFills(context.Background(), domain.FillFilter{ChainID: 137, Limit: 10_000})
	require.NoError(t, err)
	assert.Len(t, fills, maxQueryLimit)
}

func TestGetFillsNormalizesOffset(t *testing.T) {
	svc, _ := newTestService(t, 5)

	fills, err := svc.GetFills(context.Background(), domain.FillFilter{ChainID: 137, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, fills, 5)

	fills, err = svc.GetFills(context.Background(), domain.FillFilter{ChainID: 137, Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(5), fills[0].BlockNumber)
}

func TestGetCheckpoint(t *testing.T) {
	svc, st := newTestService(t, 3)

	_, _, err := svc.GetCheckpoint(context.Background(), 137)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.Advance(context.Background(), domain.Checkpoint{
		ChainID:             137,
		LastSyncedBlock:     99,
		LastSyncedBlockHash: "0xabc",
		UpdatedAt:           time.Now().UTC(),
	}))

	cp, count, err := svc.GetCheckpoint(context.Background(), 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cp.LastSyncedBlock)
	assert.Equal(t, int64(3), count)
}
