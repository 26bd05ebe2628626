package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAPIKey rejects requests without "Authorization: Bearer <key>" or
// an X-Api-Key header matching key
func RequireAPIKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Api-Key")
			if auth := r.Header.Get("Authorization"); provided == "" && strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}

			if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				logger.Warn("Unauthorized internal request", "path", r.URL.Path, "has_auth", provided != "")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
