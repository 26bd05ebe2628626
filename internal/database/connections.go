package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// legacyProvider is the provider value used by the old user_connections table
const legacyProvider = "rook"

// Connection links an internal user to the Rook identity space
type Connection struct {
	UserID         int64
	RookUserID     string
	DataSource     *string
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *int64
	ConnectedAt    int64
	UpdatedAt      int64

	// Legacy is set when the row came from user_connections
	Legacy bool
}

// SetConnection stores the active aggregator id for a user. A new connection
// replaces the previous one, and an aggregator id that moved to another user
// is released from its old owner.
func (db *DB) SetConnection(ctx context.Context, c *Connection) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSetConnection))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	if c.ConnectedAt == 0 {
		c.ConnectedAt = now
	}
	c.UpdatedAt = now

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageError(metrics.DBOpSetConnection, "begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rook_connections WHERE rook_user_id = ? AND user_id != ?`,
		c.RookUserID, c.UserID,
	); err != nil {
		return storageError(metrics.DBOpSetConnection, "release aggregator id", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rook_connections (
			user_id, rook_user_id, data_source, access_token, refresh_token,
			token_expires_at, connected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			rook_user_id = excluded.rook_user_id,
			data_source = COALESCE(excluded.data_source, data_source),
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			connected_at = excluded.connected_at,
			updated_at = excluded.updated_at
	`, c.UserID, c.RookUserID, c.DataSource, c.AccessToken, c.RefreshToken,
		c.TokenExpiresAt, c.ConnectedAt, c.UpdatedAt); err != nil {
		return storageError(metrics.DBOpSetConnection, "upsert connection", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError(metrics.DBOpSetConnection, "commit connection", err)
	}
	return nil
}

// FindConnectionByRookUserID resolves an aggregator id to a connection.
// Returns nil, nil when neither table knows the id. Legacy rows only count
// when their user still exists.
func (db *DB) FindConnectionByRookUserID(ctx context.Context, rookUserID string) (*Connection, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpFindConnection))
	defer timer.ObserveDuration()

	c, err := db.scanConnection(db.conn.QueryRowContext(ctx, `
		SELECT user_id, rook_user_id, data_source, access_token, refresh_token,
		       token_expires_at, connected_at, updated_at
		FROM rook_connections WHERE rook_user_id = ?
	`, rookUserID))
	if err != nil || c != nil {
		return c, err
	}

	return db.scanLegacyConnection(db.conn.QueryRowContext(ctx, `
		SELECT uc.user_id, uc.provider_user_id, uc.created_at
		FROM user_connections uc
		JOIN users u ON u.id = uc.user_id
		WHERE uc.provider = ? AND uc.provider_user_id = ?
		ORDER BY uc.id DESC LIMIT 1
	`, legacyProvider, rookUserID))
}

// FindConnectionByUserID returns the active connection of an internal user.
// Returns nil, nil when the user has not connected a device.
func (db *DB) FindConnectionByUserID(ctx context.Context, userID int64) (*Connection, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpFindConnection))
	defer timer.ObserveDuration()

	c, err := db.scanConnection(db.conn.QueryRowContext(ctx, `
		SELECT user_id, rook_user_id, data_source, access_token, refresh_token,
		       token_expires_at, connected_at, updated_at
		FROM rook_connections WHERE user_id = ?
	`, userID))
	if err != nil || c != nil {
		return c, err
	}

	return db.scanLegacyConnection(db.conn.QueryRowContext(ctx, `
		SELECT uc.user_id, uc.provider_user_id, uc.created_at
		FROM user_connections uc
		JOIN users u ON u.id = uc.user_id
		WHERE uc.provider = ? AND uc.user_id = ?
		ORDER BY uc.id DESC LIMIT 1
	`, legacyProvider, userID))
}

// AddLegacyConnection writes a row in the old format. Only used by imports
// from the previous deployment.
func (db *DB) AddLegacyConnection(ctx context.Context, userID int64, rookUserID string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_connections (user_id, provider, provider_user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, legacyProvider, rookUserID, time.Now().Unix())
	if err != nil {
		return storageError(metrics.DBOpSetConnection, "insert legacy connection", err)
	}
	return nil
}

// MigrateLegacyConnections copies the newest legacy row of every user that has
// no canonical connection yet. Rows whose aggregator id is already claimed are
// left behind. Returns the number of copied rows.
func (db *DB) MigrateLegacyConnections(ctx context.Context) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMigrateLegacyConnections))
	defer timer.ObserveDuration()

	result, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO rook_connections (user_id, rook_user_id, connected_at, updated_at)
		SELECT uc.user_id, uc.provider_user_id, uc.created_at, ?
		FROM user_connections uc
		WHERE uc.provider = ?
		  AND uc.id = (
		      SELECT MAX(id) FROM user_connections
		      WHERE provider = uc.provider AND user_id = uc.user_id
		  )
		  AND EXISTS (SELECT 1 FROM users u WHERE u.id = uc.user_id)
		  AND NOT EXISTS (
		      SELECT 1 FROM rook_connections rc
		      WHERE rc.user_id = uc.user_id OR rc.rook_user_id = uc.provider_user_id
		  )
	`, time.Now().Unix(), legacyProvider)
	if err != nil {
		return 0, storageError(metrics.DBOpMigrateLegacyConnections, "migrate legacy connections", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageError(metrics.DBOpMigrateLegacyConnections, "get rows affected", err)
	}
	return n, nil
}

func (db *DB) scanConnection(row *sql.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.UserID, &c.RookUserID, &c.DataSource, &c.AccessToken, &c.RefreshToken,
		&c.TokenExpiresAt, &c.ConnectedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpFindConnection, "get connection", err)
	}
	return &c, nil
}

func (db *DB) scanLegacyConnection(row *sql.Row) (*Connection, error) {
	c := Connection{Legacy: true}
	err := row.Scan(&c.UserID, &c.RookUserID, &c.ConnectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpFindConnection, "get legacy connection", err)
	}
	c.UpdatedAt = c.ConnectedAt
	return &c, nil
}
