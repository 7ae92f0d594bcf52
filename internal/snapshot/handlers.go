package snapshot

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetHistory handles GET /api/v1/portfolio/{userID}/history.
// Returns the valuation series, from persisted snapshots when available
// and otherwise from a trade-log replay.
func (b *Builder) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	series, err := b.Series(r.Context(), userID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to build history"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(series)
}
