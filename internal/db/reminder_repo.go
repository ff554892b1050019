package db

import (
	"context"
	"time"

	"gardennotify/internal/types"
)

// DefaultReminderBatch caps how many reminders one tick leases per user.
const DefaultReminderBatch = 200

// ReminderRepository provides data access for the reminders table. The
// leased_until column is the engine's in-flight claim on a due reminder.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository backed by the given
// database connection (pool or transaction).
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// LeaseDue claims the user's unsent reminders due at or before now whose
// lease is absent or expired, and leases them until now+lease. Rows another
// tick is leasing concurrently are skipped.
func (r *ReminderRepository) LeaseDue(ctx context.Context, userID string, now time.Time, lease time.Duration, limit int) ([]types.Reminder, error) {
	if limit <= 0 {
		limit = DefaultReminderBatch
	}

	rows, err := r.db.Query(ctx,
		`UPDATE reminders SET leased_until = $3
		 WHERE id IN (
		   SELECT id FROM reminders
		   WHERE user_id = $1 AND sent_at IS NULL AND due_at <= $2
		     AND (leased_until IS NULL OR leased_until < $2)
		   ORDER BY due_at, id
		   LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, planting_id, title, due_at, cadence, type, sent_at, leased_until`,
		userID,
		now,
		now.Add(lease),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lease due reminders", err)
	}
	defer rows.Close()

	var reminders []types.Reminder
	for rows.Next() {
		var (
			m       types.Reminder
			cadence *string
		)
		if err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.PlantingID,
			&m.Title,
			&m.DueAt,
			&cadence,
			&m.Type,
			&m.SentAt,
			&m.LeasedUntil,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder row", err)
		}
		if cadence != nil {
			m.Cadence = types.Cadence(*cadence)
		}
		reminders = append(reminders, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder rows", err)
	}
	return reminders, nil
}

// MarkSent makes one-shot reminders terminal.
func (r *ReminderRepository) MarkSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE reminders SET sent_at = $2, leased_until = NULL
		 WHERE id = ANY($1) AND sent_at IS NULL`,
		ids,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminders sent", err)
	}
	return nil
}

// Advance re-arms a cadenced reminder at nextDue and drops its lease.
func (r *ReminderRepository) Advance(ctx context.Context, id string, nextDue time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET due_at = $2, leased_until = NULL
		 WHERE id = $1 AND sent_at IS NULL`,
		id,
		nextDue,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to advance reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found or already sent", nil)
	}
	return nil
}

// Release drops the leases so the reminders are due again on the next tick.
func (r *ReminderRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE reminders SET leased_until = NULL
		 WHERE id = ANY($1) AND sent_at IS NULL`,
		ids,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release reminders", err)
	}
	return nil
}
