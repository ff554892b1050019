package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"gardennotify/internal/types"
)

// NotificationRepository provides data access for the notifications table,
// one row per successful channel delivery.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a delivered record. The caller sets the ID; a zero CreatedAt
// falls back to the database clock.
func (r *NotificationRepository) Create(ctx context.Context, n *types.Notification) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications
		 (id, user_id, title, body, severity, channel, due_at, rule_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		n.ID,
		n.UserID,
		n.Title,
		n.Body,
		string(n.Severity),
		string(n.Channel),
		n.DueAt,
		n.RuleID,
		nilIfZeroTime(n.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification", err)
	}
	return nil
}

// ListRecent returns the user's newest uncleared in-app notifications.
func (r *NotificationRepository) ListRecent(ctx context.Context, userID string, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, title, body, severity, channel, due_at,
		        read_at, cleared_at, rule_id, created_at
		 FROM notifications
		 WHERE user_id = $1 AND channel = 'in_app' AND cleared_at IS NULL
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (types.Notification, error) {
	var n types.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Body,
		&n.Severity,
		&n.Channel,
		&n.DueAt,
		&n.ReadAt,
		&n.ClearedAt,
		&n.RuleID,
		&n.CreatedAt,
	)
	return n, err
}

// PurgeCleared deletes notifications the user cleared before cutoff.
func (r *NotificationRepository) PurgeCleared(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE cleared_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge cleared notifications", err)
	}
	return tag.RowsAffected(), nil
}
