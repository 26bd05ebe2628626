package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livmore-rook-sync/internal/metrics"
)

// Webhook log statuses
const (
	LogStatusProcessed        = "processed"
	LogStatusSkipped          = "skipped"
	LogStatusMalformed        = "malformed"
	LogStatusNoSummary        = "no_summary"
	LogStatusUnknownKind      = "unknown_kind"
	LogStatusIdentityNotFound = "identity_not_found"
	LogStatusStorageError     = "storage_error"
)

// WebhookLog is the audit row of one webhook delivery identity
type WebhookLog struct {
	ID              int64
	ExternalUserID  string
	PayloadType     string
	DocumentVersion string
	ActivityDate    *string
	Status          string
	ErrorMessage    *string
	RawPayload      string
	DeliveryCount   int
	CreatedAt       int64
	UpdatedAt       int64
}

// UpsertWebhookLog records a delivery. A redelivery with the same external
// id, payload type and document version updates the existing row in place.
func (db *DB) UpsertWebhookLog(ctx context.Context, l *WebhookLog) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertWebhookLog))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO webhook_logs (
			external_user_id, payload_type, document_version, activity_date,
			status, error_message, raw_payload, delivery_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(external_user_id, payload_type, document_version) DO UPDATE SET
			activity_date = COALESCE(excluded.activity_date, activity_date),
			status = excluded.status,
			error_message = excluded.error_message,
			raw_payload = excluded.raw_payload,
			delivery_count = delivery_count + 1,
			updated_at = excluded.updated_at
	`, l.ExternalUserID, l.PayloadType, l.DocumentVersion, l.ActivityDate,
		l.Status, l.ErrorMessage, l.RawPayload, now, now)
	if err != nil {
		return storageError(metrics.DBOpUpsertWebhookLog, "upsert webhook log", err)
	}
	return nil
}

const webhookLogColumns = `
	id, external_user_id, payload_type, document_version, activity_date, status,
	error_message, raw_payload, delivery_count, created_at, updated_at`

func scanWebhookLog(row rowScanner) (*WebhookLog, error) {
	var l WebhookLog
	err := row.Scan(&l.ID, &l.ExternalUserID, &l.PayloadType, &l.DocumentVersion, &l.ActivityDate,
		&l.Status, &l.ErrorMessage, &l.RawPayload, &l.DeliveryCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetWebhookLog returns the log row for a delivery identity.
// Returns nil, nil when none exists.
func (db *DB) GetWebhookLog(ctx context.Context, externalUserID, payloadType, documentVersion string) (*WebhookLog, error) {
	l, err := scanWebhookLog(db.conn.QueryRowContext(ctx, `
		SELECT `+webhookLogColumns+` FROM webhook_logs
		WHERE external_user_id = ? AND payload_type = ? AND document_version = ?
	`, externalUserID, payloadType, documentVersion))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(metrics.DBOpUpsertWebhookLog, "get webhook log", err)
	}
	return l, nil
}

// ListWebhookLogs returns logs with the given status, oldest first.
// An empty status lists all rows.
func (db *DB) ListWebhookLogs(ctx context.Context, status string, limit int) ([]*WebhookLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM webhook_logs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(metrics.DBOpUpsertWebhookLog, "list webhook logs", err)
	}
	defer rows.Close()

	var logs []*WebhookLog
	for rows.Next() {
		l, err := scanWebhookLog(rows)
		if err != nil {
			return nil, storageError(metrics.DBOpUpsertWebhookLog, "scan webhook log", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(metrics.DBOpUpsertWebhookLog, "iterate webhook logs", err)
	}
	return logs, nil
}

// WebhookLogStatusCounts returns the number of log rows per status
func (db *DB) WebhookLogStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_logs GROUP BY status`)
	if err != nil {
		return nil, storageError(metrics.DBOpVerificationReport, "count webhook logs", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageError(metrics.DBOpVerificationReport, "scan webhook log count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(metrics.DBOpVerificationReport, "iterate webhook log counts", err)
	}
	return counts, nil
}
