package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"livmore-rook-sync/internal/ingest"
	"livmore-rook-sync/internal/sentry"
)

// Pipeline processes one webhook delivery
type Pipeline interface {
	Process(ctx context.Context, d ingest.Delivery) ingest.Outcome
}

// ConnectionCompleter finishes a pending device connection
type ConnectionCompleter interface {
	Complete(ctx context.Context, userID int64, rookUserID, dataSource string) (bool, error)
}

// WebhookHandler handles Rook webhook deliveries
type WebhookHandler struct {
	pipeline   Pipeline
	connect    ConnectionCompleter
	clientUUID string
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(pipeline Pipeline, connect ConnectionCompleter, clientUUID string) *WebhookHandler {
	return &WebhookHandler{
		pipeline:   pipeline,
		connect:    connect,
		clientUUID: clientUUID,
		logger:     slog.Default(),
	}
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// HandleEvent handles POST deliveries. It always answers 200: the
// aggregator retries anything else indefinitely.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Webhook handler panicked", "panic", rec, "path", r.URL.Path)
			sentry.CaptureException(fmt.Errorf("webhook panic: %v", rec), map[string]any{"path": r.URL.Path}, h.logger)
			writeJSON(w, h.logger, http.StatusOK, webhookResponse{
				Success: true,
				Warning: "Webhook received but processing failed",
			})
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", "error", err)
	}

	// A foreign client UUID usually means a misconfigured webhook target.
	// The delivery is still processed.
	if clientUUID := chi.URLParam(r, "clientUUID"); clientUUID != "" && clientUUID != h.clientUUID {
		h.logger.Warn("Webhook client UUID does not match configuration", "client_uuid", clientUUID, "path", r.URL.Path)
	}

	out := h.pipeline.Process(context.WithoutCancel(r.Context()), ingest.Delivery{
		Body:       body,
		PathUserID: chi.URLParam(r, "userID"),
	})

	resp := webhookResponse{Success: true, Processed: out.Processed}
	if out.Processed {
		resp.Message = out.Message
	} else {
		resp.Warning = out.Message
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleEcho answers GET on the webhook routes with the parsed path
// parameters. It has no side effects.
func (h *WebhookHandler) HandleEcho(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Rook webhook endpoint is up",
		"client_uuid": chi.URLParam(r, "clientUUID"),
		"user_id":     chi.URLParam(r, "userID"),
	})
}

// HandleLegacy answers GET on the legacy route. When the path names our
// client and a user with a pending connection, the connection is completed.
// It always answers 200.
func (h *WebhookHandler) HandleLegacy(w http.ResponseWriter, r *http.Request) {
	clientUUID := chi.URLParam(r, "clientUUID")
	rawUserID := chi.URLParam(r, "userID")

	resp := map[string]any{
		"success":     true,
		"client_uuid": clientUUID,
		"user_id":     rawUserID,
		"connected":   false,
	}

	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err == nil && userID > 0 && clientUUID == h.clientUUID && h.connect != nil {
		connected, err := h.connect.Complete(r.Context(), userID, rawUserID, r.URL.Query().Get("data_source"))
		if err != nil {
			h.logger.Error("Failed to complete connection", "user_id", userID, "error", err)
			resp["warning"] = "Connection could not be stored"
		}
		resp["connected"] = connected
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}
