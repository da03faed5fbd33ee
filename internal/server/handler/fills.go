package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/service"
)

// FillHandler serves read access to indexed fills and the sync checkpoint.
type FillHandler struct {
	svc     *service.FillService
	chainID int64
	logger  *slog.Logger
}

// NewFillHandler creates a FillHandler for the given chain.
func NewFillHandler(svc *service.FillService, chainID int64, logger *slog.Logger) *FillHandler {
	return &FillHandler{
		svc:     svc,
		chainID: chainID,
		logger:  logger,
	}
}

// fillResponse is the JSON shape for a single fill.
type fillResponse struct {
	ChainID           int64   `json:"chain_id"`
	Exchange          string  `json:"exchange"`
	BlockNumber       uint64  `json:"block_number"`
	TxHash            string  `json:"tx_hash"`
	LogIndex          uint32  `json:"log_index"`
	Timestamp         string  `json:"timestamp"`
	OrderHash         string  `json:"order_hash"`
	Maker             string  `json:"maker"`
	Taker             string  `json:"taker"`
	MakerAssetID      string  `json:"maker_asset_id"`
	TakerAssetID      string  `json:"taker_asset_id"`
	MakerAmountFilled string  `json:"maker_amount_filled"`
	TakerAmountFilled string  `json:"taker_amount_filled"`
	Fee               string  `json:"fee"`
	TokenID           string  `json:"token_id"`
	ConditionID       string  `json:"condition_id,omitempty"`
	Price             float64 `json:"price"`
	Side              string  `json:"side"`
}

func toFillResponse(f domain.Fill) fillResponse {
	return fillResponse{
		ChainID:           f.ChainID,
		Exchange:          f.Exchange,
		BlockNumber:       f.BlockNumber,
		TxHash:            f.TxHash,
		LogIndex:          f.LogIndex,
		Timestamp:         f.Timestamp.UTC().Format(time.RFC3339),
		OrderHash:         f.OrderHash,
		Maker:             f.Maker,
		Taker:             f.Taker,
		MakerAssetID:      f.MakerAssetID,
		TakerAssetID:      f.TakerAssetID,
		MakerAmountFilled: f.MakerAmountFilled,
		TakerAmountFilled: f.TakerAmountFilled,
		Fee:               f.Fee,
		TokenID:           f.TokenID,
		ConditionID:       f.ConditionID,
		Price:             f.Price,
		Side:              string(f.Side),
	}
}

// ListFills returns fills matching the query parameters, ordered by
// (block_number, log_index).
// GET /api/fills
func (h *FillHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFillFilter(r, h.chainID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time bound: use RFC 3339")
		return
	}

	fills, err := h.svc.GetFills(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list fills failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]fillResponse, 0, len(fills))
	for _, f := range fills {
		out = append(out, toFillResponse(f))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fills": out,
		"count": len(out),
	})
}

// GetCheckpoint returns the chain's sync checkpoint and total fill count.
// GET /api/checkpoint
func (h *FillHandler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, count, err := h.svc.GetCheckpoint(r.Context(), h.chainID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no checkpoint recorded")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get checkpoint failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain_id":               cp.ChainID,
		"last_synced_block":      cp.LastSyncedBlock,
		"last_synced_block_hash": cp.LastSyncedBlockHash,
		"updated_at":             cp.UpdatedAt.UTC().Format(time.RFC3339),
		"fill_count":             count,
	})
}
