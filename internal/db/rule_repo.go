package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gardennotify/internal/types"
)

// RuleRepository provides data access for notification_rules and the
// rule_fire_claims table that records every fire until it is delivered.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a new RuleRepository backed by the given
// database connection (pool or transaction).
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// ruleColumns is the column list scanRule expects, qualified with the r alias.
const ruleColumns = `r.id, r.user_id, r.name, r.type,
	r.schedule_freq, r.schedule_hour, r.schedule_minute, r.schedule_days,
	r.params, r.throttle_secs, r.is_enabled, r.severity,
	r.target_kind, r.target_id, r.last_fired_at, r.created_at`

// scanRule scans ruleColumns, preceded by any extra destinations.
func scanRule(row pgx.Row, extra ...any) (types.NotificationRule, error) {
	var (
		r          types.NotificationRule
		days       int16
		targetKind *string
		targetID   *string
	)
	dest := append(extra,
		&r.ID,
		&r.UserID,
		&r.Name,
		&r.Type,
		&r.Schedule.Frequency,
		&r.Schedule.Hour,
		&r.Schedule.Minute,
		&days,
		&r.Params,
		&r.ThrottleSecs,
		&r.IsEnabled,
		&r.Severity,
		&targetKind,
		&targetID,
		&r.LastFiredAt,
		&r.CreatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}

	r.Schedule.Weekdays = types.WeekdaySet(days)
	if r.Severity == "" {
		r.Severity = types.SeverityInfo
	}
	if targetKind != nil && targetID != nil {
		r.Target = &types.TargetRef{Kind: types.TargetKind(*targetKind), ID: *targetID}
	}
	return r, nil
}

// ListEnabled returns the user's enabled rules ordered by id.
func (r *RuleRepository) ListEnabled(ctx context.Context, userID string) ([]types.NotificationRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+`
		 FROM notification_rules r
		 WHERE r.user_id = $1 AND r.is_enabled
		 ORDER BY r.id`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list enabled rules", err)
	}
	defer rows.Close()

	var rules []types.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule row", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rule rows", err)
	}
	return rules, nil
}

// ClaimFire atomically advances last_fired_at to now and records a claim,
// leased until now+lease. It returns claimed=false when the rule fired inside
// its cooldown window, already fired at this instant, or was disabled since
// it was read.
//
// The cooldown comes from the stored throttle_secs, not from the caller's
// copy of the rule:
//
//	WITH fired AS (
//	  UPDATE notification_rules SET last_fired_at = $2
//	  WHERE id = $1 AND is_enabled
//	    AND (last_fired_at IS NULL
//	         OR (last_fired_at < $2
//	             AND last_fired_at <= $2 - make_interval(secs => throttle_secs)))
//	  RETURNING id, user_id)
//	INSERT INTO rule_fire_claims ... SELECT ... FROM fired
//
// Any error means the fire was not claimed and nothing may be delivered.
func (r *RuleRepository) ClaimFire(ctx context.Context, rule types.NotificationRule, claimID string, now time.Time, lease time.Duration) (types.RuleFiring, bool, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`WITH fired AS (
		   UPDATE notification_rules
		   SET last_fired_at = $2
		   WHERE id = $1 AND is_enabled
		     AND (last_fired_at IS NULL
		          OR (last_fired_at < $2
		              AND last_fired_at <= $2 - make_interval(secs => throttle_secs)))
		   RETURNING id, user_id
		 )
		 INSERT INTO rule_fire_claims (id, rule_id, user_id, fired_at, leased_until, attempts)
		 SELECT $3, fired.id, fired.user_id, $2, $4, 1 FROM fired
		 RETURNING id`,
		rule.ID,
		now,
		claimID,
		now.Add(lease),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.RuleFiring{}, false, nil
	}
	if err != nil {
		return types.RuleFiring{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim rule fire", err)
	}

	fired := now
	rule.LastFiredAt = &fired
	return types.RuleFiring{ClaimID: id, Rule: rule, FiredAt: now, Attempts: 1}, true, nil
}

// LeaseStaleClaims re-leases the user's undelivered claims whose lease
// expired before now, incrementing their attempts. Claims that already used
// maxAttempts are abandoned instead.
func (r *RuleRepository) LeaseStaleClaims(ctx context.Context, userID string, now time.Time, lease time.Duration, maxAttempts int) ([]types.RuleFiring, error) {
	if _, err := r.db.Exec(ctx,
		`UPDATE rule_fire_claims
		 SET abandoned_at = $2, leased_until = NULL
		 WHERE user_id = $1 AND delivered_at IS NULL AND abandoned_at IS NULL
		   AND leased_until < $2 AND attempts >= $3`,
		userID,
		now,
		maxAttempts,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to abandon exhausted claims", err)
	}

	rows, err := r.db.Query(ctx,
		`UPDATE rule_fire_claims c
		 SET leased_until = $3, attempts = c.attempts + 1
		 FROM notification_rules r
		 WHERE c.rule_id = r.id AND c.user_id = $1
		   AND c.delivered_at IS NULL AND c.abandoned_at IS NULL
		   AND c.leased_until < $2
		 RETURNING c.id, c.fired_at, c.attempts, `+ruleColumns,
		userID,
		now,
		now.Add(lease),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lease stale claims", err)
	}
	defer rows.Close()

	var firings []types.RuleFiring
	for rows.Next() {
		var f types.RuleFiring
		rule, err := scanRule(rows, &f.ClaimID, &f.FiredAt, &f.Attempts)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claim row", err)
		}
		f.Rule = rule
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claim rows", err)
	}
	return firings, nil
}

// MarkClaimsDelivered finalizes claims whose digest was delivered or held.
func (r *RuleRepository) MarkClaimsDelivered(ctx context.Context, claimIDs []string, at time.Time) error {
	if len(claimIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE rule_fire_claims
		 SET delivered_at = $2, leased_until = NULL
		 WHERE id = ANY($1) AND delivered_at IS NULL`,
		claimIDs,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark claims delivered", err)
	}
	return nil
}

// ReleaseClaims expires the leases of claims whose delivery failed so the
// next tick picks them up as stale. last_fired_at stays advanced.
func (r *RuleRepository) ReleaseClaims(ctx context.Context, claimIDs []string, now time.Time) error {
	if len(claimIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE rule_fire_claims
		 SET leased_until = $2
		 WHERE id = ANY($1) AND delivered_at IS NULL`,
		claimIDs,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release claims", err)
	}
	return nil
}

// PurgeClaims deletes delivered and abandoned claims finished before cutoff.
func (r *RuleRepository) PurgeClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM rule_fire_claims
		 WHERE delivered_at < $1 OR abandoned_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge rule claims", err)
	}
	return tag.RowsAffected(), nil
}
