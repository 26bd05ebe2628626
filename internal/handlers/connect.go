package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"livmore-rook-sync/internal/connect"
)

// ConnectionStarter begins a device connection
type ConnectionStarter interface {
	Start(ctx context.Context, userID int64) (string, error)
}

// ConnectHandler sends users to the aggregator's device connection page
type ConnectHandler struct {
	manager ConnectionStarter
	logger  *slog.Logger
}

// NewConnectHandler creates a new connect handler
func NewConnectHandler(manager ConnectionStarter) *ConnectHandler {
	return &ConnectHandler{
		manager: manager,
		logger:  slog.Default(),
	}
}

// HandleStart handles GET /api/rook/connect?user_fid=. The connection is
// completed later by the legacy webhook GET or a webhook naming the user.
func (h *ConnectHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r.URL.Query().Get("user_fid"))
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "user_fid is required")
		return
	}

	connectURL, err := h.manager.Start(r.Context(), userID)
	if errors.Is(err, connect.ErrUnknownUser) {
		writeError(w, h.logger, http.StatusNotFound, "Unknown user")
		return
	}
	if err != nil {
		h.logger.Error("Failed to start device connection", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to start device connection")
		return
	}

	h.logger.Info("Redirecting to device connection page", "user_id", userID)
	http.Redirect(w, r, connectURL, http.StatusTemporaryRedirect)
}
