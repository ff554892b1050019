package db

import (
	"context"
	"time"

	"gardennotify/internal/notifications/core"
	"gardennotify/internal/types"
)

// Compile-time assertion that HeldDeliveryRepository satisfies the manager's
// persistence surface.
var _ core.HeldDeliveryRepository = (*HeldDeliveryRepository)(nil)

// HeldDeliveryRepository provides data access for the held_deliveries table:
// email and push payloads deferred by quiet hours or the digest hour.
type HeldDeliveryRepository struct {
	db DBTX
}

// NewHeldDeliveryRepository creates a new HeldDeliveryRepository backed by
// the given database connection (pool or transaction).
func NewHeldDeliveryRepository(db DBTX) *HeldDeliveryRepository {
	return &HeldDeliveryRepository{db: db}
}

// Insert stores a newly held payload with zero attempts.
func (r *HeldDeliveryRepository) Insert(ctx context.Context, h *types.HeldDelivery) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO held_deliveries
		 (id, user_id, channel, title, body, severity, due_at, resume_at, reason, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, COALESCE($10, NOW()))`,
		h.ID,
		h.UserID,
		string(h.Channel),
		h.Title,
		h.Body,
		string(h.Severity),
		h.DueAt,
		h.ResumeAt,
		string(h.Reason),
		nilIfZeroTime(h.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert held delivery", err)
	}
	return nil
}

// LeaseDue leases the user's pending held deliveries whose resume time has
// passed (any resume time when force is set) and whose lease is free. Each
// leased row's attempts is incremented.
func (r *HeldDeliveryRepository) LeaseDue(ctx context.Context, userID string, now time.Time, force bool, lease time.Duration) ([]types.HeldDelivery, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE held_deliveries SET leased_until = $4, attempts = attempts + 1
		 WHERE id IN (
		   SELECT id FROM held_deliveries
		   WHERE user_id = $1 AND delivered_at IS NULL AND abandoned_at IS NULL
		     AND (resume_at <= $2 OR $3)
		     AND (leased_until IS NULL OR leased_until < $2)
		   ORDER BY due_at, id
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, channel, title, body, severity, due_at, resume_at,
		           reason, attempts, created_at, delivered_at`,
		userID,
		now,
		force,
		now.Add(lease),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lease held deliveries", err)
	}
	defer rows.Close()

	var held []types.HeldDelivery
	for rows.Next() {
		var h types.HeldDelivery
		if err := rows.Scan(
			&h.ID,
			&h.UserID,
			&h.Channel,
			&h.Title,
			&h.Body,
			&h.Severity,
			&h.DueAt,
			&h.ResumeAt,
			&h.Reason,
			&h.Attempts,
			&h.CreatedAt,
			&h.DeliveredAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan held delivery row", err)
		}
		held = append(held, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating held delivery rows", err)
	}
	return held, nil
}

// MarkDelivered finalizes held deliveries sent by a flush.
func (r *HeldDeliveryRepository) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE held_deliveries SET delivered_at = $2, leased_until = NULL
		 WHERE id = ANY($1) AND delivered_at IS NULL`,
		ids,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark held deliveries delivered", err)
	}
	return nil
}

// Reschedule moves a failed held delivery to resumeAt and frees its lease.
func (r *HeldDeliveryRepository) Reschedule(ctx context.Context, id string, resumeAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE held_deliveries SET resume_at = $2, leased_until = NULL
		 WHERE id = $1 AND delivered_at IS NULL`,
		id,
		resumeAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule held delivery", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundHeld, "held delivery not found", nil)
	}
	return nil
}

// Abandon gives up on a held delivery and records why.
func (r *HeldDeliveryRepository) Abandon(ctx context.Context, id string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE held_deliveries
		 SET abandoned_at = NOW(), failure_reason = $2, leased_until = NULL
		 WHERE id = $1 AND delivered_at IS NULL`,
		id,
		nilIfEmpty(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to abandon held delivery", err)
	}
	return nil
}

// Purge deletes delivered and abandoned held deliveries older than cutoff.
func (r *HeldDeliveryRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM held_deliveries
		 WHERE delivered_at < $1 OR abandoned_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge held deliveries", err)
	}
	return tag.RowsAffected(), nil
}
