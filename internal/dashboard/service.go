// Package dashboard serves one user's daily activity to the UI: cache, then
// the local store, then a live pull from the aggregator with write-back.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livmore-rook-sync/internal/cache"
	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/ingest"
	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/rook"
)

var (
	// ErrNotConnected is returned when the user has no aggregator id
	ErrNotConnected = errors.New("user has not connected a device")
	// ErrNoData is returned when the aggregator has nothing for the day
	ErrNoData = errors.New("no data for this day")
	// ErrUpstream is returned when every live call failed
	ErrUpstream = errors.New("aggregator unavailable")
)

// Store is the subset of the database the pull path needs
type Store interface {
	GetDailyActivity(ctx context.Context, userID int64, date string) (*database.DailyActivity, error)
	FindConnectionByUserID(ctx context.Context, userID int64) (*database.Connection, error)
	UpsertDailyActivity(ctx context.Context, userID int64, date string, f database.ActivityFields) error
	ListDailyActivities(ctx context.Context, userID int64, from, to string) ([]*database.DailyActivity, error)
	GetGoals(ctx context.Context, userID int64) (*database.Goals, error)
}

// Fetcher pulls one day from the aggregator
type Fetcher interface {
	FetchDay(ctx context.Context, rookUserID, date string) (*rook.Day, error)
}

// Physical is the activity half of a View
type Physical struct {
	Steps          int     `json:"steps"`
	Calories       int     `json:"calories"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Sleep is the sleep half of a View
type Sleep struct {
	Hours      float64 `json:"hours"`
	Efficiency *int    `json:"efficiency"`
}

// View is the UI shape of one day
type View struct {
	User     int64    `json:"user"`
	Date     string   `json:"date"`
	Physical Physical `json:"physical"`
	Sleep    Sleep    `json:"sleep"`

	// Source is local_db or rook_api
	Source string `json:"-"`
}

// cacheEntry is what is stored under a cache key. A nil View is a cached
// NoData result.
type cacheEntry struct {
	View   *View  `json:"view,omitempty"`
	Source string `json:"source,omitempty"`
}

// Options configures a Service
type Options struct {
	CacheTTL         time.Duration
	CacheNegativeTTL time.Duration
}

// Service answers pull requests
type Service struct {
	store     Store
	fetcher   Fetcher
	cache     cache.Cache
	publisher events.Publisher
	opts      Options
	logger    *slog.Logger
}

// NewService creates a new pull service. A nil cache disables caching.
func NewService(store Store, fetcher Fetcher, c cache.Cache, publisher events.Publisher, opts Options) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store:     store,
		fetcher:   fetcher,
		cache:     c,
		publisher: publisher,
		opts:      opts,
		logger:    slog.Default(),
	}
}

func cacheKey(userID int64, date string) string {
	return fmt.Sprintf("activity:%d:%s", userID, date)
}

// GetDailyActivity returns the user's activity for date. It returns
// ErrNotConnected, ErrNoData or ErrUpstream for the expected misses, and a
// wrapped storage error otherwise. forceRefresh skips the cache.
func (s *Service) GetDailyActivity(ctx context.Context, userID int64, date string, forceRefresh bool) (*View, error) {
	key := cacheKey(userID, date)

	if !forceRefresh {
		if entry, ok := s.cached(ctx, key); ok {
			metrics.PullRequestsTotal.WithLabelValues(metrics.SourceCache).Inc()
			if entry.View == nil {
				return nil, ErrNoData
			}
			v := *entry.View
			v.Source = entry.Source
			return &v, nil
		}
	}

	row, err := s.store.GetDailyActivity(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read local activity: %w", err)
	}
	if row != nil {
		v := viewFromRow(row)
		s.remember(ctx, key, v, s.opts.CacheTTL)
		metrics.PullRequestsTotal.WithLabelValues(metrics.SourceLocal).Inc()
		return v, nil
	}

	conn, err := s.store.FindConnectionByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	return s.live(ctx, key, userID, conn.RookUserID, date)
}

// live pulls the day from the aggregator and writes it back
func (s *Service) live(ctx context.Context, key string, userID int64, rookUserID, date string) (*View, error) {
	day, err := s.fetcher.FetchDay(ctx, rookUserID, date)
	switch {
	case errors.Is(err, rook.ErrNoData):
		metrics.PullRequestsTotal.WithLabelValues(metrics.SourceNoData).Inc()
		s.remember(ctx, key, nil, s.opts.CacheNegativeTTL)
		return nil, ErrNoData
	case errors.Is(err, rook.ErrAllCallsFailed):
		metrics.PullRequestsTotal.WithLabelValues(metrics.SourceUpstreamFailed).Inc()
		s.logger.Warn("All live calls failed", "user_id", userID, "date", date, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	case err != nil:
		return nil, fmt.Errorf("failed to fetch live activity: %w", err)
	}

	fields := ingest.ActivityFields(day.Partial, database.OriginPull)
	if err := s.store.UpsertDailyActivity(ctx, userID, date, fields); err != nil {
		return nil, fmt.Errorf("failed to write back live activity: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewActivityUpdated(userID, date, database.OriginPull)); err != nil {
			s.logger.Warn("Failed to publish activity event", "user_id", userID, "date", date, "error", err)
		}
	}

	s.logger.Info("Served live activity", "user_id", userID, "date", date,
		"no_data_calls", day.NoData, "failed_calls", len(day.Errors))
	metrics.PullRequestsTotal.WithLabelValues(metrics.SourceLive).Inc()

	v := &View{
		User:   userID,
		Date:   date,
		Source: metrics.SourceLive,
	}
	p := day.Partial
	if p.Steps != nil {
		v.Physical.Steps = *p.Steps
	}
	if p.Calories != nil {
		v.Physical.Calories = *p.Calories
	}
	if p.DistanceMeters != nil {
		v.Physical.DistanceMeters = *p.DistanceMeters
	}
	if p.SleepHours != nil {
		v.Sleep.Hours = *p.SleepHours
	}
	v.Sleep.Efficiency = p.SleepEfficiency
	return v, nil
}

// Invalidate drops the cached entry for an updated day. It is an
// events.Handler.
func (s *Service) Invalidate(ctx context.Context, ev events.ActivityUpdated) error {
	s.cache.Delete(ctx, cacheKey(ev.UserID, ev.Date))
	return nil
}

func (s *Service) cached(ctx context.Context, key string) (*cacheEntry, bool) {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("Dropping unreadable cache entry", "key", key, "error", err)
		s.cache.Delete(ctx, key)
		return nil, false
	}
	return &entry, true
}

// remember caches a view, or a NoData marker when v is nil
func (s *Service) remember(ctx context.Context, key string, v *View, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := cacheEntry{View: v}
	if v != nil {
		entry.Source = v.Source
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.cache.Set(ctx, key, raw, ttl)
}

func viewFromRow(a *database.DailyActivity) *View {
	v := &View{
		User: a.UserID,
		Date: a.ActivityDate,
		Physical: Physical{
			Steps:          a.Steps,
			Calories:       a.Calories,
			DistanceMeters: a.DistanceMeters,
		},
		Sleep: Sleep{
			Efficiency: a.SleepEfficiency,
		},
		Source: metrics.SourceLocal,
	}
	if a.SleepHours != nil {
		v.Sleep.Hours = *a.SleepHours
	}
	return v
}
