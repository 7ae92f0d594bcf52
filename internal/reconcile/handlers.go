package reconcile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/papertrade/portfolio-engine/internal/store"
)

// AnalyzeHandler handles GET /api/v1/reconcile/{userID}.
// Returns the analysis only, with no state change. The caller inspects the
// report and confirms via POST before anything is rewritten.
func (e *Engine) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := e.AnalyzeUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// ApplyHandler handles POST /api/v1/reconcile/{userID}.
// Re-analyzes and rewrites the materialized state. This is the explicit
// confirmation step following a GET.
func (e *Engine) ApplyHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	report, err := e.AnalyzeUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	if report.TradeCount == 0 {
		writeError(w, "no trades to reconcile from", http.StatusConflict)
		return
	}

	result, err := e.Apply(ctx, report)
	if err != nil {
		slog.Error("reconciliation rewrite failed",
			"user", userID, "completed", result.PhasesCompleted, "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrPartialReconciliation) {
			// Surfaced distinctly: some phases ran, state may be
			// inconsistent until a re-run succeeds.
			status = http.StatusConflict
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error":            err.Error(),
			"phases_completed": result.PhasesCompleted,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
