package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// stubReader serves canned logs and rejects ranges wider than maxSpan the
// way resource-limited providers do.
type stubReader struct {
	mu        sync.Mutex
	head      uint64
	logs      map[uint64][]types.Log
	maxSpan   uint64 // 0 means reject every range
	transient int    // transient failures injected before first success
	calls     int
}

func (r *stubReader) HeadBlock(context.Context) (uint64, error) { return r.head, nil }

func (r *stubReader) BlockHash(_ context.Context, number uint64) (string, error) {
	return fmt.Sprintf("0x%064x", number), nil
}

func (r *stubReader) BlockTimestamp(_ context.Context, number uint64) (time.Time, error) {
	return time.Unix(int64(number), 0).UTC(), nil
}

func (r *stubReader) FilterLogs(_ context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if r.transient > 0 {
		r.transient--
		return nil, fmt.Errorf("%w: connection reset by peer", ErrTransient)
	}
	if toBlock-fromBlock+1 > r.maxSpan {
		return nil, fmt.Errorf("%w: query returned more than 10000 results", ErrRangeTooLarge)
	}

	var out []types.Log
	for n := fromBlock; n <= toBlock; n++ {
		out = append(out, r.logs[n]...)
	}
	return out, nil
}

func testLog(block uint64, index uint) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(common.Big1),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleepRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BackoffBase: time.Nanosecond,
		BackoffCap:  time.Nanosecond,
		sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestFetchRangeBisectsRejectedRanges(t *testing.T) {
	reader := &stubReader{
		maxSpan: 5,
		logs: map[uint64][]types.Log{
			100: {testLog(100, 3), testLog(100, 1)},
			107: {testLog(107, 0)},
			118: {testLog(118, 2), testLog(118, 7)},
			131: {testLog(131, 0)},
			136: {testLog(136, 4)},
		},
	}
	f := NewFetcher(reader, noSleepRetry(1), FetcherConfig{ChunkSize: 16, MinChunkSize: 1, MaxConcurrent: 4}, discardLogger())

	logs, err := f.FetchRange(context.Background(), 100, 136)
	require.NoError(t, err)
	require.Len(t, logs, 7)

	// Complete and ordered by (block_number, log_index) despite the
	// concurrent bisection.
	want := []struct {
		block uint64
		index uint
	}{
		{100, 1}, {100, 3}, {107, 0}, {118, 2}, {118, 7}, {131, 0}, {136, 4},
	}
	for i, w := range want {
		assert.Equal(t, w.block, logs[i].BlockNumber, "position %d", i)
		assert.Equal(t, w.index, logs[i].Index, "position %d", i)
	}
}

func TestFetchRangeSingleBlockRejectionIsFatal(t *testing.T) {
	reader := &stubReader{maxSpan: 0}
	f := NewFetcher(reader, noSleepRetry(1), FetcherConfig{ChunkSize: 8, MinChunkSize: 1}, discardLogger())

	_, err := f.FetchRange(context.Background(), 10, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider rejected minimum range")
	assert.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestFetchRangeRetriesTransientFailures(t *testing.T) {
	reader := &stubReader{
		maxSpan:   100,
		transient: 2,
		logs:      map[uint64][]types.Log{5: {testLog(5, 0)}},
	}
	f := NewFetcher(reader, noSleepRetry(3), FetcherConfig{ChunkSize: 100}, discardLogger())

	logs, err := f.FetchRange(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 3, reader.calls)
}

func TestFetchRangeExhaustedRetriesPropagate(t *testing.T) {
	reader := &stubReader{maxSpan: 100, transient: 10}
	f := NewFetcher(reader, noSleepRetry(2), FetcherConfig{ChunkSize: 100}, discardLogger())

	_, err := f.FetchRange(context.Background(), 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestFetchRangeRejectsInvertedRange(t *testing.T) {
	f := NewFetcher(&stubReader{maxSpan: 100}, noSleepRetry(1), FetcherConfig{}, discardLogger())

	_, err := f.FetchRange(context.Background(), 20, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "invalid range")
}

func TestFetchRangeEmptyResult(t *testing.T) {
	reader := &stubReader{maxSpan: 100}
	f := NewFetcher(reader, noSleepRetry(1), FetcherConfig{ChunkSize: 10}, discardLogger())

	logs, err := f.FetchRange(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
