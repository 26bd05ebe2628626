package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// Goals are a user's daily targets
type Goals struct {
	UserID        int64
	DailySteps    int
	DailyCalories int
	SleepHours    float64
	UpdatedAt     int64
}

// UpsertGoals stores a user's daily targets
func (db *DB) UpsertGoals(ctx context.Context, g *Goals) error {
	g.UpdatedAt = time.Now().Unix()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_goals (user_id, daily_steps, daily_calories, sleep_hours, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			daily_steps = excluded.daily_steps,
			daily_calories = excluded.daily_calories,
			sleep_hours = excluded.sleep_hours,
			updated_at = excluded.updated_at
	`, g.UserID, g.DailySteps, g.DailyCalories, g.SleepHours, g.UpdatedAt)
	if err != nil {
		return storageError(metrics.DBOpGetGoals, "upsert goals", err)
	}
	return nil
}

// GetGoals returns a user's targets. Returns nil, nil when none are set.
func (db *DB) GetGoals(ctx context.Context, userID int64) (*Goals, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetGoals))
	defer timer.ObserveDuration()

	var g Goals
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, daily_steps, daily_calories, sleep_hours, updated_at
		FROM user_goals WHERE user_id = ?
	`, userID).Scan(&g.UserID, &g.DailySteps, &g.DailyCalories, &g.SleepHours, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpGetGoals, "get goals", err)
	}
	return &g, nil
}
