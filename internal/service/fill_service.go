// Package service contains the read-side application services behind the
// HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// FillService serves fill and checkpoint queries for the API layer.
type FillService struct {
	fills       domain.FillStore
	checkpoints domain.CheckpointStore
	logger      *slog.Logger
}

// NewFillService creates a FillService with all required dependencies.
func NewFillService(
	fills domain.FillStore,
	checkpoints domain.CheckpointStore,
	logger *slog.Logger,
) *FillService {
	return &FillService{
		fills:       fills,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// GetFills returns fills matching the filter. The limit defaults to 50 and
// is capped at 500; a negative offset is treated as zero.
func (s *FillService) GetFills(ctx context.Context, filter domain.FillFilter) ([]domain.Fill, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	fills, err := s.fills.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fill_service: query fills: %w", err)
	}
	return fills, nil
}

// GetCheckpoint returns the sync checkpoint and total fill count for a
// chain. It returns domain.ErrNotFound when the indexer has never run.
func (s *FillService) GetCheckpoint(ctx context.Context, chainID int64) (*domain.Checkpoint, int64, error) {
	cp, err := s.checkpoints.Read(ctx, chainID)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.fills.Count(ctx, chainID)
	if err != nil {
		return nil, 0, fmt.Errorf("fill_service: count fills: %w", err)
	}
	return cp, count, nil
}
