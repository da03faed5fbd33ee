// Package memory provides an in-memory implementation of the fill and
// checkpoint stores, used in tests and for ephemeral runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

type fillKey struct {
	ChainID  int64
	TxHash   string
	LogIndex uint32
}

// Store is an in-memory implementation of domain.FillStore and
// domain.CheckpointStore. A single mutex guards both so CommitBatch is
// atomic with respect to readers.
type Store struct {
	mu          sync.RWMutex
	fills       map[fillKey]domain.Fill
	checkpoints map[int64]domain.Checkpoint
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		fills:       make(map[fillKey]domain.Fill),
		checkpoints: make(map[int64]domain.Checkpoint),
	}
}

func key(f domain.Fill) fillKey {
	return fillKey{ChainID: f.ChainID, TxHash: f.TxHash, LogIndex: f.LogIndex}
}

func (s *Store) upsertLocked(fills []domain.Fill) int64 {
	var written int64
	for _, f := range fills {
		k := key(f)
		if _, exists := s.fills[k]; exists {
			continue
		}
		s.fills[k] = f
		written++
	}
	return written
}

// Upsert inserts fills, skipping rows whose key already exists. It returns
// the number of rows actually written.
func (s *Store) Upsert(_ context.Context, fills []domain.Fill) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(fills), nil
}

// CommitBatch writes fills and advances the checkpoint atomically.
func (s *Store) CommitBatch(_ context.Context, fills []domain.Fill, cp domain.Checkpoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := s.upsertLocked(fills)
	s.checkpoints[cp.ChainID] = cp
	return written, nil
}

// RollbackToBlock deletes all fills above the checkpoint's block and resets
// the checkpoint. It returns the number of fills deleted.
func (s *Store) RollbackToBlock(_ context.Context, cp domain.Checkpoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, f := range s.fills {
		if f.ChainID == cp.ChainID && f.BlockNumber > cp.LastSyncedBlock {
			delete(s.fills, k)
			deleted++
		}
	}
	s.checkpoints[cp.ChainID] = cp
	return deleted, nil
}

func matches(f domain.Fill, filter domain.FillFilter) bool {
	if f.ChainID != filter.ChainID {
		return false
	}
	if filter.ConditionID != "" && f.ConditionID != filter.ConditionID {
		return false
	}
	if filter.TokenID != "" && f.TokenID != filter.TokenID {
		return false
	}
	if filter.Maker != "" && f.Maker != filter.Maker {
		return false
	}
	if filter.Taker != "" && f.Taker != filter.Taker {
		return false
	}
	if filter.Address != "" && f.Maker != filter.Address && f.Taker != filter.Address {
		return false
	}
	if filter.Since != nil && f.Timestamp.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && f.Timestamp.After(*filter.Until) {
		return false
	}
	return true
}

// Query returns fills matching the filter, ordered by (block_number,
// log_index) ascending.
func (s *Store) Query(_ context.Context, filter domain.FillFilter) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Fill
	for _, f := range s.fills {
		if matches(f, filter) {
			out = append(out, f)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListBefore returns all fills with a timestamp strictly before the cutoff,
// ordered by (block_number, log_index).
func (s *Store) ListBefore(_ context.Context, chainID int64, before time.Time) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Fill
	for _, f := range s.fills {
		if f.ChainID == chainID && f.Timestamp.Before(before) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// DeleteBefore removes all fills with a timestamp strictly before the cutoff
// and returns the number deleted.
func (s *Store) DeleteBefore(_ context.Context, chainID int64, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, f := range s.fills {
		if f.ChainID == chainID && f.Timestamp.Before(before) {
			delete(s.fills, k)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the total number of fills stored for a chain.
func (s *Store) Count(_ context.Context, chainID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, f := range s.fills {
		if f.ChainID == chainID {
			count++
		}
	}
	return count, nil
}

// Read returns the checkpoint for a chain, or domain.ErrNotFound when no
// sync has been recorded.
func (s *Store) Read(_ context.Context, chainID int64) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[chainID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cp
	return &out, nil
}

// Advance stores the checkpoint for the chain.
func (s *Store) Advance(_ context.Context, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ChainID] = cp
	return nil
}

var (
	_ domain.FillStore       = (*Store)(nil)
	_ domain.CheckpointStore = (*Store)(nil)
)
