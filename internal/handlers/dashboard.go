package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"livmore-rook-sync/internal/dashboard"
)

// Dashboard answers pull requests
type Dashboard interface {
	GetDailyActivity(ctx context.Context, userID int64, date string, forceRefresh bool) (*dashboard.View, error)
	GetWeek(ctx context.Context, userID int64, endDate string) (*dashboard.Week, error)
}

// DashboardHandler serves the UI's daily and weekly views
type DashboardHandler struct {
	service Dashboard
	logger  *slog.Logger
	now     func() time.Time
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(service Dashboard) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// HandleDaily handles GET /api/dashboard-data
// Query parameters:
//   - user_fid: internal user id (required)
//   - date: YYYY-MM-DD (default: today)
//   - force_refresh: skip the cache (default: false)
func (h *DashboardHandler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	userID, ok := parseUserID(query.Get("user_fid"))
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "user_fid is required")
		return
	}
	date, ok := parseDate(query.Get("date"), h.now())
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	view, err := h.service.GetDailyActivity(r.Context(), userID, date, parseBool(query, "force_refresh"))
	switch {
	case err == nil:
		writeJSON(w, h.logger, http.StatusOK, map[string]any{
			"success": true,
			"data":    view,
			"source":  view.Source,
		})
	case errors.Is(err, dashboard.ErrNoData):
		writeJSON(w, h.logger, http.StatusOK, map[string]any{
			"success": true,
			"data":    nil,
			"message": "No data for this day",
		})
	case errors.Is(err, dashboard.ErrNotConnected):
		writeError(w, h.logger, http.StatusNotFound, "User has not connected a device")
	case errors.Is(err, dashboard.ErrUpstream):
		writeError(w, h.logger, http.StatusBadGateway, "Wearable data provider unavailable")
	default:
		h.logger.Error("Failed to get daily activity", "user_id", userID, "date", date, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
	}
}

// HandleWeekly handles GET /api/weekly-data?user_fid=&end_date=
func (h *DashboardHandler) HandleWeekly(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	userID, ok := parseUserID(query.Get("user_fid"))
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "user_fid is required")
		return
	}
	endDate, ok := parseDate(query.Get("end_date"), h.now())
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	week, err := h.service.GetWeek(r.Context(), userID, endDate)
	if err != nil {
		h.logger.Error("Failed to get week", "user_id", userID, "end_date", endDate, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success": true,
		"data":    week,
	})
}
