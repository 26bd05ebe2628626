// Package backfill pulls the aggregator's pre-existing window of daily data
// for connected users into the store.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/ingest"
	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/rook"
)

// ErrUserNotConnected is returned when a scoped run names a user without an
// aggregator id
var ErrUserNotConnected = errors.New("user has no aggregator connection")

// Store is the subset of the database the job needs
type Store interface {
	ListConnectedUsers(ctx context.Context) ([]database.ConnectedUser, error)
	DailyActivityExists(ctx context.Context, userID int64, date string) (bool, error)
	UpsertDailyActivity(ctx context.Context, userID int64, date string, f database.ActivityFields) error
}

// Fetcher pulls one day from the aggregator
type Fetcher interface {
	FetchDay(ctx context.Context, rookUserID, date string) (*rook.Day, error)
}

// Options scopes a run
type Options struct {
	// UserID limits the run to one user when set
	UserID *int64
	// Force refetches dates that already have a row
	Force bool
}

// UserResult counts the outcome of one user's window
type UserResult struct {
	UserID       int64  `json:"user_fid"`
	RookUserID   string `json:"rook_user_id"`
	Timezone     string `json:"timezone"`
	DaysMigrated int    `json:"days_migrated"`
	Skipped      int    `json:"skipped"`
	NoData       int    `json:"no_data"`
	Errors       int    `json:"errors"`
}

// Job runs backfills
type Job struct {
	store      Store
	fetcher    Fetcher
	publisher  events.Publisher
	windowDays int
	logger     *slog.Logger
	now        func() time.Time
}

// NewJob creates a backfill job covering windowDays dates ending yesterday
func NewJob(store Store, fetcher Fetcher, publisher events.Publisher, windowDays int) *Job {
	return &Job{
		store:      store,
		fetcher:    fetcher,
		publisher:  publisher,
		windowDays: max(1, windowDays),
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Run backfills every connected user, or the one named in opts. Upstream
// failures are counted per date; a storage failure stops the run and is
// returned with the results gathered so far.
func (j *Job) Run(ctx context.Context, opts Options) ([]UserResult, error) {
	users, err := j.store.ListConnectedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}

	if opts.UserID != nil {
		var scoped []database.ConnectedUser
		for _, u := range users {
			if u.UserID == *opts.UserID {
				scoped = append(scoped, u)
			}
		}
		if len(scoped) == 0 {
			return nil, fmt.Errorf("%w: %d", ErrUserNotConnected, *opts.UserID)
		}
		users = scoped
	}

	j.logger.Info("Starting backfill", "users", len(users), "window_days", j.windowDays, "force", opts.Force)

	results := make([]UserResult, 0, len(users))
	for _, u := range users {
		res, err := j.runUser(ctx, u, opts.Force)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func (j *Job) runUser(ctx context.Context, u database.ConnectedUser, force bool) (UserResult, error) {
	res := UserResult{
		UserID:     u.UserID,
		RookUserID: u.RookUserID,
		Timezone:   u.Timezone,
	}

	for _, date := range j.window(u.Timezone) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if !force {
			exists, err := j.store.DailyActivityExists(ctx, u.UserID, date)
			if err != nil {
				return res, fmt.Errorf("failed to check %s for user %d: %w", date, u.UserID, err)
			}
			if exists {
				res.Skipped++
				metrics.BackfillDaysTotal.WithLabelValues(metrics.ResultSkipped).Inc()
				continue
			}
		}

		day, err := j.fetcher.FetchDay(ctx, u.RookUserID, date)
		if errors.Is(err, rook.ErrNoData) {
			res.NoData++
			metrics.BackfillDaysTotal.WithLabelValues(metrics.ResultNoData).Inc()
			continue
		}
		if err != nil {
			res.Errors++
			metrics.BackfillDaysTotal.WithLabelValues(metrics.ResultFailure).Inc()
			j.logger.Warn("Backfill fetch failed", "user_id", u.UserID, "date", date, "error", err)
			continue
		}

		if err := j.store.UpsertDailyActivity(ctx, u.UserID, date, ingest.ActivityFields(day.Partial, database.OriginBackfill)); err != nil {
			return res, fmt.Errorf("failed to store %s for user %d: %w", date, u.UserID, err)
		}
		res.DaysMigrated++
		metrics.BackfillDaysTotal.WithLabelValues(metrics.ResultSuccess).Inc()

		if j.publisher != nil {
			if err := j.publisher.Publish(ctx, events.NewActivityUpdated(u.UserID, date, database.OriginBackfill)); err != nil {
				j.logger.Warn("Failed to publish activity event", "user_id", u.UserID, "date", date, "error", err)
			}
		}
	}

	j.logger.Info("Backfilled user",
		"user_id", u.UserID,
		"days_migrated", res.DaysMigrated,
		"skipped", res.Skipped,
		"no_data", res.NoData,
		"errors", res.Errors,
	)

	return res, nil
}

// window returns the dates to backfill, oldest first, ending yesterday in
// the given timezone. Unknown timezones fall back to UTC.
func (j *Job) window(timezone string) []string {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			j.logger.Warn("Unknown timezone, using UTC", "timezone", timezone, "error", err)
		} else {
			loc = l
		}
	}

	yesterday := j.now().In(loc).AddDate(0, 0, -1)
	dates := make([]string, 0, j.windowDays)
	for i := j.windowDays - 1; i >= 0; i-- {
		dates = append(dates, yesterday.AddDate(0, 0, -i).Format(database.DateLayout))
	}
	return dates
}
