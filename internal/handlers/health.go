package handlers

import (
	"log/slog"
	"net/http"

	"livmore-rook-sync/internal/rook"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health() error
}

// RateLimitReporter exposes an aggregator client's pacing state
type RateLimitReporter interface {
	GetRateLimitStatus() rook.RateLimitStatus
}

// HandleHealth answers 200 when the database is reachable and 503 otherwise.
// The aggregator clients' rate limit state is included either way.
func HandleHealth(db HealthChecker, limits map[string]RateLimitReporter) http.HandlerFunc {
	logger := slog.Default()
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if len(limits) > 0 {
			statuses := make(map[string]rook.RateLimitStatus, len(limits))
			for name, l := range limits {
				statuses[name] = l.GetRateLimitStatus()
			}
			resp["rook"] = statuses
		}

		if err := db.Health(); err != nil {
			logger.Error("Health check failed", "error", err)
			resp["status"] = "unavailable"
			writeJSON(w, logger, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}
