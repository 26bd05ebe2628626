package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livmore-rook-sync/internal/database"
)

// maxBodyBytes bounds request bodies read by the handlers
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// parseUserID reads a positive internal user id from a query value
func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseDate validates a YYYY-MM-DD date, defaulting to today in UTC
func parseDate(raw string, now time.Time) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC().Format(database.DateLayout), true
	}
	if _, err := time.Parse(database.DateLayout, raw); err != nil {
		return "", false
	}
	return raw, true
}

// parseBool accepts true/1/yes and a bare flag
func parseBool(q map[string][]string, key string) bool {
	values, ok := q[key]
	if !ok {
		return false
	}
	if len(values) == 0 || values[0] == "" {
		return true
	}
	switch strings.ToLower(values[0]) {
	case "true", "1", "yes":
		return true
	}
	return false
}
