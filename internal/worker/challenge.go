package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/metrics"
)

// ChallengeSyncer tells the challenge service that a user's day changed.
// Failures are logged and counted only; they never reach the write path.
type ChallengeSyncer struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

type challengeSyncRequest struct {
	UserFID int64  `json:"user_fid"`
	Date    string `json:"date"`
}

// NewChallengeSyncer creates a syncer posting to url. An empty url disables
// the sync.
func NewChallengeSyncer(url string, timeout time.Duration) *ChallengeSyncer {
	return &ChallengeSyncer{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// Sync posts the event's user and date. It is an events.Handler.
func (s *ChallengeSyncer) Sync(ctx context.Context, ev events.ActivityUpdated) error {
	if s.url == "" {
		metrics.ChallengeSyncTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}

	body, err := json.Marshal(challengeSyncRequest{UserFID: ev.UserID, Date: ev.Date})
	if err != nil {
		return fmt.Errorf("failed to marshal challenge sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.ChallengeSyncTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("challenge sync failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.ChallengeSyncTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("challenge sync failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	metrics.ChallengeSyncTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.Info("challenge_sync", "user_id", ev.UserID, "date", ev.Date, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
