package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// User represents a whitelisted application user
type User struct {
	ID          int64
	SocialRef   *string
	DisplayName *string
	Timezone    string
	CreatedAt   int64
	UpdatedAt   int64
}

// ConnectedUser is a user with an aggregator id, as walked by the backfill job
type ConnectedUser struct {
	UserID     int64
	RookUserID string
	Timezone   string
}

// UpsertUser creates a user or updates its profile fields
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertUser))
	defer timer.ObserveDuration()

	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	now := time.Now().Unix()
	u.UpdatedAt = now
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, social_ref, display_name, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			social_ref = COALESCE(excluded.social_ref, social_ref),
			display_name = COALESCE(excluded.display_name, display_name),
			timezone = excluded.timezone,
			updated_at = excluded.updated_at
	`, u.ID, u.SocialRef, u.DisplayName, u.Timezone, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return storageError(metrics.DBOpUpsertUser, "upsert user", err)
	}
	return nil
}

// GetUser retrieves a user by internal id.
// Returns nil, nil when no such user exists.
func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetUser))
	defer timer.ObserveDuration()

	var u User
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, social_ref, display_name, timezone, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.SocialRef, &u.DisplayName, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpGetUser, "get user", err)
	}
	return &u, nil
}

// ListConnectedUsers returns every user with an aggregator id, preferring the
// canonical connection over any legacy row
func (db *DB) ListConnectedUsers(ctx context.Context) ([]ConnectedUser, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListConnectedUsers))
	defer timer.ObserveDuration()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT user_id, timezone, resolved_id FROM (
			SELECT u.id AS user_id, u.timezone AS timezone,
			       COALESCE(rc.rook_user_id, (
			           SELECT uc.provider_user_id FROM user_connections uc
			           WHERE uc.user_id = u.id AND uc.provider = 'rook'
			           ORDER BY uc.id DESC LIMIT 1
			       )) AS resolved_id
			FROM users u
			LEFT JOIN rook_connections rc ON rc.user_id = u.id
		)
		WHERE resolved_id IS NOT NULL
		ORDER BY user_id
	`)
	if err != nil {
		return nil, storageError(metrics.DBOpListConnectedUsers, "list connected users", err)
	}
	defer rows.Close()

	var users []ConnectedUser
	for rows.Next() {
		var cu ConnectedUser
		if err := rows.Scan(&cu.UserID, &cu.Timezone, &cu.RookUserID); err != nil {
			return nil, storageError(metrics.DBOpListConnectedUsers, "scan connected user", err)
		}
		users = append(users, cu)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(metrics.DBOpListConnectedUsers, "iterate connected users", err)
	}

	return users, nil
}
