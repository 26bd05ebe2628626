package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"livmore-rook-sync/internal/sentry"
)

// Recovery turns a handler panic into a 500 response and reports it
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					sentry.CaptureException(fmt.Errorf("panic: %v", rec), map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
					}, logger)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
