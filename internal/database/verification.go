package database

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// ErrUnscopedDelete is returned when a delete is missing its user or date
var ErrUnscopedDelete = errors.New("both user and activity date are required")

// testDataFingerprint matches the sentinel values written by manual and
// scripted test deliveries
const testDataFingerprint = `(
	(steps = 12345 AND calories = 678) OR
	(steps = 99999 AND calories = 9999) OR
	(steps = 1000 AND calories = 100 AND sleep_hours = 8.0)
)`

// VerificationReport is the operational summary of the activity store
type VerificationReport struct {
	TotalRows     int              `json:"total_rows"`
	DistinctUsers int              `json:"distinct_users"`
	EarliestDate  *string          `json:"earliest_date"`
	LatestDate    *string          `json:"latest_date"`
	RowsLast7Days int              `json:"rows_last_7_days"`
	TestDataRows  int              `json:"test_data_rows"`
	ByOrigin      map[string]int   `json:"by_origin"`
	BySource      map[string]int   `json:"by_source"`
	WebhookLogs   map[string]int   `json:"webhook_logs"`
	Completion    []GoalCompletion `json:"goal_completion"`
	GeneratedAt   string           `json:"generated_at"`
}

// GoalCompletion is a user's goal hit rate over the trailing week
type GoalCompletion struct {
	UserID       int64   `json:"user_fid"`
	DaysStored   int     `json:"days_stored"`
	StepsRate    float64 `json:"steps_rate"`
	CaloriesRate float64 `json:"calories_rate"`
	SleepRate    float64 `json:"sleep_rate"`
}

// VerificationReport aggregates the store. today anchors the trailing
// seven-day window, formatted as DateLayout.
func (db *DB) VerificationReport(ctx context.Context, today string) (*VerificationReport, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpVerificationReport))
	defer timer.ObserveDuration()

	day, err := time.Parse(DateLayout, today)
	if err != nil {
		return nil, err
	}
	weekStart := day.AddDate(0, 0, -6).Format(DateLayout)

	report := &VerificationReport{
		ByOrigin:    make(map[string]int),
		BySource:    make(map[string]int),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id), MIN(activity_date), MAX(activity_date),
		       COALESCE(SUM(CASE WHEN activity_date >= ? AND activity_date <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN `+testDataFingerprint+` THEN 1 ELSE 0 END), 0)
		FROM daily_activities
	`, weekStart, today).Scan(&report.TotalRows, &report.DistinctUsers, &report.EarliestDate,
		&report.LatestDate, &report.RowsLast7Days, &report.TestDataRows)
	if err != nil {
		return nil, storageError(metrics.DBOpVerificationReport, "summarize daily activities", err)
	}

	if err := db.countBy(ctx, "origin", report.ByOrigin); err != nil {
		return nil, err
	}
	if err := db.countBy(ctx, "source", report.BySource); err != nil {
		return nil, err
	}

	report.WebhookLogs, err = db.WebhookLogStatusCounts(ctx)
	if err != nil {
		return nil, err
	}

	report.Completion, err = db.goalCompletion(ctx, weekStart, today)
	if err != nil {
		return nil, err
	}

	return report, nil
}

// countBy groups daily activities by a fixed column name
func (db *DB) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT COALESCE(`+column+`, 'unknown'), COUNT(*)
		FROM daily_activities GROUP BY 1
	`)
	if err != nil {
		return storageError(metrics.DBOpVerificationReport, "count by "+column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return storageError(metrics.DBOpVerificationReport, "scan count by "+column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return storageError(metrics.DBOpVerificationReport, "iterate count by "+column, err)
	}
	return nil
}

func (db *DB) goalCompletion(ctx context.Context, from, to string) ([]GoalCompletion, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT g.user_id,
		       COUNT(a.id),
		       SUM(CASE WHEN g.daily_steps > 0 AND a.steps >= g.daily_steps THEN 1 ELSE 0 END),
		       SUM(CASE WHEN g.daily_calories > 0 AND a.calories >= g.daily_calories THEN 1 ELSE 0 END),
		       SUM(CASE WHEN g.sleep_hours > 0 AND a.sleep_hours >= g.sleep_hours THEN 1 ELSE 0 END)
		FROM user_goals g
		LEFT JOIN daily_activities a
		       ON a.user_id = g.user_id AND a.activity_date >= ? AND a.activity_date <= ?
		GROUP BY g.user_id
		ORDER BY g.user_id
	`, from, to)
	if err != nil {
		return nil, storageError(metrics.DBOpVerificationReport, "compute goal completion", err)
	}
	defer rows.Close()

	completion := []GoalCompletion{}
	for rows.Next() {
		var c GoalCompletion
		var steps, calories, sleep int
		if err := rows.Scan(&c.UserID, &c.DaysStored, &steps, &calories, &sleep); err != nil {
			return nil, storageError(metrics.DBOpVerificationReport, "scan goal completion", err)
		}
		if c.DaysStored > 0 {
			c.StepsRate = float64(steps) / float64(c.DaysStored)
			c.CaloriesRate = float64(calories) / float64(c.DaysStored)
			c.SleepRate = float64(sleep) / float64(c.DaysStored)
		}
		completion = append(completion, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(metrics.DBOpVerificationReport, "iterate goal completion", err)
	}
	return completion, nil
}

// DeleteDailyActivity removes the row for exactly one (user, date). With
// testDataOnly set, the row is only removed if it carries a sentinel test
// fingerprint. Returns the number of deleted rows.
func (db *DB) DeleteDailyActivity(ctx context.Context, userID int64, date string, testDataOnly bool) (int64, error) {
	if userID <= 0 || date == "" {
		return 0, ErrUnscopedDelete
	}

	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteDailyActivity))
	defer timer.ObserveDuration()

	query := `DELETE FROM daily_activities WHERE user_id = ? AND activity_date = ?`
	if testDataOnly {
		query += ` AND ` + testDataFingerprint
	}

	result, err := db.conn.ExecContext(ctx, query, userID, date)
	if err != nil {
		return 0, storageError(metrics.DBOpDeleteDailyActivity, "delete daily activity", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageError(metrics.DBOpDeleteDailyActivity, "get rows affected", err)
	}
	return n, nil
}
