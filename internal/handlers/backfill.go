package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"livmore-rook-sync/internal/backfill"
)

// Backfiller runs the historical backfill
type Backfiller interface {
	Run(ctx context.Context, opts backfill.Options) ([]backfill.UserResult, error)
}

// BackfillHandler triggers backfills for operators
type BackfillHandler struct {
	job    Backfiller
	logger *slog.Logger
}

// NewBackfillHandler creates a new backfill handler
func NewBackfillHandler(job Backfiller) *BackfillHandler {
	return &BackfillHandler{
		job:    job,
		logger: slog.Default(),
	}
}

type backfillRequest struct {
	ForceRefresh    bool   `json:"force_refresh"`
	SpecificUserFID *int64 `json:"specific_user_fid"`
}

type backfillTotals struct {
	Users        int `json:"users"`
	DaysMigrated int `json:"days_migrated"`
	Skipped      int `json:"skipped"`
	NoData       int `json:"no_data"`
	Errors       int `json:"errors"`
}

// HandleBackfill handles POST /api/rook/backfill. An empty body backfills
// every connected user.
func (h *BackfillHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}

	results, err := h.job.Run(r.Context(), backfill.Options{
		UserID: req.SpecificUserFID,
		Force:  req.ForceRefresh,
	})

	totals := backfillTotals{Users: len(results)}
	for _, res := range results {
		totals.DaysMigrated += res.DaysMigrated
		totals.Skipped += res.Skipped
		totals.NoData += res.NoData
		totals.Errors += res.Errors
	}
	if results == nil {
		results = []backfill.UserResult{}
	}

	switch {
	case errors.Is(err, backfill.ErrUserNotConnected):
		writeError(w, h.logger, http.StatusNotFound, "User has not connected a device")
	case err != nil:
		h.logger.Error("Backfill failed", "error", err)
		writeJSON(w, h.logger, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Backfill stopped on a storage error",
			"results": results,
			"totals":  totals,
		})
	default:
		writeJSON(w, h.logger, http.StatusOK, map[string]any{
			"success": true,
			"results": results,
			"totals":  totals,
		})
	}
}
