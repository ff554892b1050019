package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gardennotify/internal/types"
)

// UserRepository reads users joined with their notification preferences.
// Users without a preferences row get types.DefaultPreference.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// profileColumns defines the columns scanProfile expects. Preference columns
// come from a LEFT JOIN and are NULL when the user never saved preferences.
const profileColumns = `u.id, u.email, u.push_endpoint, u.zone_key,
	p.email_enabled, p.push_enabled, p.in_app_enabled, p.digest_hour, p.timezone,
	p.dnd_enabled, p.dnd_start_hour, p.dnd_end_hour`

func scanProfile(row pgx.Row) (types.UserProfile, error) {
	var (
		u            types.User
		pushEndpoint *string
		zoneKey      *string
		emailOn      *bool
		pushOn       *bool
		inAppOn      *bool
		digestHour   *int
		timezone     *string
		dndOn        *bool
		dndStart     *int
		dndEnd       *int
	)
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&pushEndpoint,
		&zoneKey,
		&emailOn,
		&pushOn,
		&inAppOn,
		&digestHour,
		&timezone,
		&dndOn,
		&dndStart,
		&dndEnd,
	); err != nil {
		return types.UserProfile{}, err
	}
	if pushEndpoint != nil {
		u.PushEndpoint = *pushEndpoint
	}
	if zoneKey != nil {
		u.ZoneKey = *zoneKey
	}

	prefs := types.DefaultPreference(u.ID)
	if emailOn != nil {
		prefs.EmailEnabled = *emailOn
		prefs.PushEnabled = derefBool(pushOn)
		prefs.InAppEnabled = derefBool(inAppOn)
		prefs.DigestHour = digestHour
		if timezone != nil && *timezone != "" {
			prefs.Timezone = *timezone
		}
		if derefBool(dndOn) && dndStart != nil && dndEnd != nil {
			prefs.DND = types.DNDWindow{Enabled: true, StartHour: *dndStart, EndHour: *dndEnd}
		}
	}
	return types.UserProfile{User: u, Preferences: prefs}, nil
}

func derefBool(b *bool) bool {
	return b != nil && *b
}

// ListActive returns up to limit users with id greater than afterID that have
// work at now: an enabled rule, a due reminder, a pending held delivery or an
// undelivered claim. Results are ordered by id for keyset paging.
func (r *UserRepository) ListActive(ctx context.Context, afterID string, now time.Time, limit int) ([]types.UserProfile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+profileColumns+`
		 FROM users u
		 LEFT JOIN notification_preferences p ON p.user_id = u.id
		 WHERE u.id > $1
		   AND (
		     EXISTS (SELECT 1 FROM notification_rules r
		             WHERE r.user_id = u.id AND r.is_enabled)
		     OR EXISTS (SELECT 1 FROM reminders m
		                WHERE m.user_id = u.id AND m.sent_at IS NULL AND m.due_at <= $2)
		     OR EXISTS (SELECT 1 FROM held_deliveries h
		                WHERE h.user_id = u.id AND h.delivered_at IS NULL AND h.abandoned_at IS NULL)
		     OR EXISTS (SELECT 1 FROM rule_fire_claims c
		                WHERE c.user_id = u.id AND c.delivered_at IS NULL AND c.abandoned_at IS NULL)
		   )
		 ORDER BY u.id
		 LIMIT $3`,
		afterID,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active users", err)
	}
	defer rows.Close()

	var profiles []types.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user row", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user rows", err)
	}
	return profiles, nil
}

// GetProfile returns one user with preferences. Returns ErrCodeNotFoundUser
// if the user does not exist.
func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM users u
		 LEFT JOIN notification_preferences p ON p.user_id = u.id
		 WHERE u.id = $1`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return &p, nil
}
