package handler

import (
	"net/http"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// SyncStatusProvider exposes the orchestrator's live state to the API.
type SyncStatusProvider interface {
	State() domain.SyncState
	LastResult() *domain.SyncResult
}

// SyncHandler serves the orchestrator status endpoint.
type SyncHandler struct {
	provider SyncStatusProvider
}

// NewSyncHandler creates a SyncHandler. The provider may be nil when the
// process runs in serve-only mode without an indexer.
func NewSyncHandler(provider SyncStatusProvider) *SyncHandler {
	return &SyncHandler{provider: provider}
}

// GetStatus responds with the orchestrator's current state and, when a run
// has completed, its last result.
// GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"state": string(domain.StateStopped),
		})
		return
	}

	resp := map[string]any{
		"state": string(h.provider.State()),
	}
	if result := h.provider.LastResult(); result != nil {
		resp["last_result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}
