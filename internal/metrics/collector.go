package metrics

import (
	"context"
	"log/slog"
	"time"
)

// StoreStats is the subset of the database used for storage gauges
type StoreStats interface {
	CountDailyActivities(ctx context.Context) (int, error)
	WebhookLogStatusCounts(ctx context.Context) (map[string]int, error)
}

// StartStorageCollector starts a background loop that periodically
// refreshes the stored row gauges from the database
func StartStorageCollector(ctx context.Context, db StoreStats, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	CollectStorage(ctx, db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Storage collector stopping")
			return
		case <-ticker.C:
			CollectStorage(ctx, db, logger)
		}
	}
}

// CollectStorage sets DailyActivityRows and WebhookLogsByStatus once
func CollectStorage(ctx context.Context, db StoreStats, logger *slog.Logger) {
	if rows, err := db.CountDailyActivities(ctx); err != nil {
		logger.Error("Failed to count daily activity rows", "error", err)
	} else {
		DailyActivityRows.Set(float64(rows))
	}

	counts, err := db.WebhookLogStatusCounts(ctx)
	if err != nil {
		logger.Error("Failed to count webhook logs by status", "error", err)
		return
	}
	for _, status := range []string{
		WebhookProcessed, WebhookMalformed, WebhookNoSummary, WebhookIdentityNotFound,
		WebhookStorageError, WebhookUnknownKind, WebhookSkipped,
	} {
		WebhookLogsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}
