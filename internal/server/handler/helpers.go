package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseFillFilter extracts fill query parameters from the query string.
// Address filters take lowercase hex; time bounds are RFC 3339. Limit and
// offset defaults are applied by the service layer.
func parseFillFilter(r *http.Request, chainID int64) (domain.FillFilter, error) {
	q := r.URL.Query()

	filter := domain.FillFilter{
		ChainID:     chainID,
		ConditionID: strings.TrimSpace(q.Get("condition_id")),
		TokenID:     strings.TrimSpace(q.Get("token_id")),
		Maker:       strings.ToLower(strings.TrimSpace(q.Get("maker"))),
		Taker:       strings.ToLower(strings.TrimSpace(q.Get("taker"))),
		Address:     strings.ToLower(strings.TrimSpace(q.Get("address"))),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Until = &t
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	return filter, nil
}
