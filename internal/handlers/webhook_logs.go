package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"livmore-rook-sync/internal/database"
)

// WebhookLogStore lists logged deliveries
type WebhookLogStore interface {
	ListWebhookLogs(ctx context.Context, status string, limit int) ([]*database.WebhookLog, error)
}

// WebhookLogsHandler lets operators triage logged deliveries
type WebhookLogsHandler struct {
	store  WebhookLogStore
	logger *slog.Logger
}

// NewWebhookLogsHandler creates a new webhook log handler
func NewWebhookLogsHandler(store WebhookLogStore) *WebhookLogsHandler {
	return &WebhookLogsHandler{
		store:  store,
		logger: slog.Default(),
	}
}

type webhookLogView struct {
	ID              int64   `json:"id"`
	ExternalUserID  string  `json:"external_user_id"`
	PayloadType     string  `json:"payload_type"`
	DocumentVersion string  `json:"document_version"`
	ActivityDate    *string `json:"activity_date"`
	Status          string  `json:"status"`
	ErrorMessage    *string `json:"error_message"`
	DeliveryCount   int     `json:"delivery_count"`
	UpdatedAt       int64   `json:"updated_at"`
	RawPayload      string  `json:"raw_payload,omitempty"`
}

// HandleList handles GET /api/rook/webhook-logs
// Query parameters:
//   - status: only logs with this status (default: all)
//   - limit: maximum logs to return (default: 100, max: 1000)
//   - raw: include raw payloads (default: false)
func (h *WebhookLogsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 100
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		if limit < 1 || limit > 1000 {
			writeError(w, h.logger, http.StatusBadRequest, "Limit must be between 1 and 1000")
			return
		}
	}
	includeRaw := parseBool(query, "raw")

	logs, err := h.store.ListWebhookLogs(r.Context(), query.Get("status"), limit)
	if err != nil {
		h.logger.Error("Failed to list webhook logs", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]webhookLogView, 0, len(logs))
	for _, l := range logs {
		v := webhookLogView{
			ID:              l.ID,
			ExternalUserID:  l.ExternalUserID,
			PayloadType:     l.PayloadType,
			DocumentVersion: l.DocumentVersion,
			ActivityDate:    l.ActivityDate,
			Status:          l.Status,
			ErrorMessage:    l.ErrorMessage,
			DeliveryCount:   l.DeliveryCount,
			UpdatedAt:       l.UpdatedAt,
		}
		if includeRaw {
			v.RawPayload = l.RawPayload
		}
		views = append(views, v)
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success": true,
		"logs":    views,
	})
}
