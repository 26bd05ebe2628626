package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// Origins record which inbound path last wrote a row
const (
	OriginWebhook  = "webhook"
	OriginPull     = "pull"
	OriginBackfill = "backfill"
	OriginManual   = "manual"
)

// DateLayout is the storage format of activity dates
const DateLayout = "2006-01-02"

// DailyActivity is one user's activity for one local calendar date
type DailyActivity struct {
	ID              int64
	UserID          int64
	ActivityDate    string
	ProcessingDate  *string
	Steps           int
	Calories        int
	DistanceMeters  float64
	SleepHours      *float64
	SleepEfficiency *int
	Source          *string
	Origin          string
	CreatedAt       int64
	UpdatedAt       int64
}

// ActivityFields is a partial update. Nil fields are left untouched on an
// existing row and take their column default on a new one.
type ActivityFields struct {
	Steps           *int
	Calories        *int
	DistanceMeters  *float64
	SleepHours      *float64
	SleepEfficiency *int
	Source          *string
	Origin          string
}

// Empty reports whether the update carries no activity values
func (f ActivityFields) Empty() bool {
	return f.Steps == nil && f.Calories == nil && f.DistanceMeters == nil &&
		f.SleepHours == nil && f.SleepEfficiency == nil
}

// UpsertDailyActivity merges a partial update into the (user, date) row in a
// single statement. Concurrent calls for the same key never drop each
// other's fields, and replaying a call is harmless.
func (db *DB) UpsertDailyActivity(ctx context.Context, userID int64, date string, f ActivityFields) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertDailyActivity))
	defer timer.ObserveDuration()

	origin := f.Origin
	if origin == "" {
		origin = OriginWebhook
	}
	now := time.Now()
	processingDate := now.UTC().Format(DateLayout)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO daily_activities (
			user_id, activity_date, processing_date,
			steps, calories, distance_meters,
			sleep_hours, sleep_efficiency, source, origin,
			created_at, updated_at
		) VALUES (?, ?, ?, COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, activity_date) DO UPDATE SET
			processing_date = excluded.processing_date,
			steps = COALESCE(?, steps),
			calories = COALESCE(?, calories),
			distance_meters = COALESCE(?, distance_meters),
			sleep_hours = COALESCE(excluded.sleep_hours, sleep_hours),
			sleep_efficiency = COALESCE(excluded.sleep_efficiency, sleep_efficiency),
			source = COALESCE(excluded.source, source),
			origin = excluded.origin,
			updated_at = excluded.updated_at
	`, userID, date, processingDate,
		f.Steps, f.Calories, f.DistanceMeters,
		f.SleepHours, f.SleepEfficiency, f.Source, origin,
		now.Unix(), now.Unix(),
		f.Steps, f.Calories, f.DistanceMeters)
	if err != nil {
		return storageError(metrics.DBOpUpsertDailyActivity, "upsert daily activity", err)
	}
	return nil
}

const dailyActivityColumns = `
	id, user_id, activity_date, processing_date, steps, calories, distance_meters,
	sleep_hours, sleep_efficiency, source, origin, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDailyActivity(row rowScanner) (*DailyActivity, error) {
	var a DailyActivity
	err := row.Scan(&a.ID, &a.UserID, &a.ActivityDate, &a.ProcessingDate, &a.Steps, &a.Calories,
		&a.DistanceMeters, &a.SleepHours, &a.SleepEfficiency, &a.Source, &a.Origin,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetDailyActivity returns the stored row for (user, date).
// Returns nil, nil when nothing is stored.
func (db *DB) GetDailyActivity(ctx context.Context, userID int64, date string) (*DailyActivity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetDailyActivity))
	defer timer.ObserveDuration()

	a, err := scanDailyActivity(db.conn.QueryRowContext(ctx,
		`SELECT `+dailyActivityColumns+` FROM daily_activities WHERE user_id = ? AND activity_date = ?`,
		userID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpGetDailyActivity, "get daily activity", err)
	}
	return a, nil
}

// DailyActivityExists reports whether a row is stored for (user, date)
func (db *DB) DailyActivityExists(ctx context.Context, userID int64, date string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetDailyActivity))
	defer timer.ObserveDuration()

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM daily_activities WHERE user_id = ? AND activity_date = ?)`,
		userID, date).Scan(&exists)
	if err != nil {
		return false, storageError(metrics.DBOpGetDailyActivity, "check daily activity", err)
	}
	return exists, nil
}

// ListDailyActivities returns a user's rows with from <= date <= to, oldest first
func (db *DB) ListDailyActivities(ctx context.Context, userID int64, from, to string) ([]*DailyActivity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListDailyActivities))
	defer timer.ObserveDuration()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+dailyActivityColumns+`
		FROM daily_activities
		WHERE user_id = ? AND activity_date >= ? AND activity_date <= ?
		ORDER BY activity_date ASC
	`, userID, from, to)
	if err != nil {
		return nil, storageError(metrics.DBOpListDailyActivities, "list daily activities", err)
	}
	defer rows.Close()

	var activities []*DailyActivity
	for rows.Next() {
		a, err := scanDailyActivity(rows)
		if err != nil {
			return nil, storageError(metrics.DBOpListDailyActivities, "scan daily activity", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(metrics.DBOpListDailyActivities, "iterate daily activities", err)
	}

	return activities, nil
}

// CountDailyActivities returns the number of stored rows
func (db *DB) CountDailyActivities(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_activities`).Scan(&count); err != nil {
		return 0, storageError(metrics.DBOpListDailyActivities, "count daily activities", err)
	}
	return count, nil
}
