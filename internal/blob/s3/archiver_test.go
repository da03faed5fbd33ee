package s3blob

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/store/memory"
)

type captureWriter struct {
	err         error
	path        string
	contentType string
	data        []byte
	puts        int
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.puts++
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.data = b
	return nil
}

func archiveFill(block uint64, ts time.Time) domain.Fill {
	return domain.Fill{
		ChainID:           137,
		Exchange:          "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e",
		BlockNumber:       block,
		TxHash:            fmt.Sprintf("0x%064x", block),
		Timestamp:         ts,
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

func TestArchiveFillsUploadsThenPrunes(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.Upsert(ctx, []domain.Fill{
		archiveFill(10, cutoff.Add(-48*time.Hour)),
		archiveFill(20, cutoff.Add(-24*time.Hour)),
		archiveFill(30, cutoff.Add(time.Hour)), // newer than the cutoff, kept
	})
	require.NoError(t, err)

	writer := &captureWriter{}
	archiver := NewFillArchiver(writer, st, 137)

	archived, err := archiver.ArchiveFills(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), archived)

	assert.Equal(t, "archive/fills/137/2024-06-01.csv", writer.path)
	assert.Equal(t, "text/csv", writer.contentType)

	records, err := csv.NewReader(strings.NewReader(string(writer.data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header plus two fills
	assert.Equal(t, "chain_id", records[0][0])
	assert.Equal(t, "10", records[1][2])
	assert.Equal(t, "20", records[2][2])
	assert.Equal(t, "0.65", records[1][16])
	assert.Equal(t, "BUY", records[1][17])

	count, err := st.Count(ctx, 137)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestArchiveFillsNothingToArchive(t *testing.T) {
	writer := &captureWriter{}
	archiver := NewFillArchiver(writer, memory.New(), 137)

	archived, err := archiver.ArchiveFills(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.Zero(t, writer.puts)
}

func TestArchiveFillsUploadFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.Upsert(ctx, []domain.Fill{archiveFill(10, cutoff.Add(-time.Hour))})
	require.NoError(t, err)

	writer := &captureWriter{err: errors.New("bucket unreachable")}
	archiver := NewFillArchiver(writer, st, 137)

	_, err = archiver.ArchiveFills(ctx, cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")

	// The fills survive for the next run.
	count, err := st.Count(ctx, 137)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
