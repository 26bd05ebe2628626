package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"livmore-rook-sync/internal/database"
)

// VerificationStore is the subset of the database the verify routes use
type VerificationStore interface {
	VerificationReport(ctx context.Context, today string) (*database.VerificationReport, error)
	DeleteDailyActivity(ctx context.Context, userID int64, date string, testDataOnly bool) (int64, error)
}

// VerifyHandler serves the operator verification report and scoped cleanup
type VerifyHandler struct {
	store  VerificationStore
	logger *slog.Logger
	now    func() time.Time
}

// NewVerifyHandler creates a new verification handler
func NewVerifyHandler(store VerificationStore) *VerifyHandler {
	return &VerifyHandler{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// HandleReport handles GET /api/rook/verify
func (h *VerifyHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.VerificationReport(r.Context(), h.now().UTC().Format(database.DateLayout))
	if err != nil {
		h.logger.Error("Failed to build verification report", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success": true,
		"report":  report,
	})
}

type deleteRequest struct {
	UserFID      int64  `json:"user_fid"`
	ActivityDate string `json:"activity_date"`
	TestDataOnly bool   `json:"test_data_only"`
}

// HandleDelete handles DELETE /api/rook/verify. Both user_fid and
// activity_date are required.
func (h *VerifyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	date := strings.TrimSpace(req.ActivityDate)
	if req.UserFID <= 0 || date == "" {
		writeError(w, h.logger, http.StatusBadRequest, "user_fid and activity_date are required")
		return
	}
	if _, err := time.Parse(database.DateLayout, date); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "activity_date must be YYYY-MM-DD")
		return
	}

	deleted, err := h.store.DeleteDailyActivity(r.Context(), req.UserFID, date, req.TestDataOnly)
	if errors.Is(err, database.ErrUnscopedDelete) {
		writeError(w, h.logger, http.StatusBadRequest, "user_fid and activity_date are required")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete activity", "user_id", req.UserFID, "date", date, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("Deleted daily activity",
		"user_id", req.UserFID,
		"date", date,
		"test_data_only", req.TestDataOnly,
		"deleted", deleted)

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}
