package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention is how long finished claims, held deliveries, cleared
// notifications and job history are kept.
const DefaultRetention = 30 * 24 * time.Hour

// ClaimPurger deletes finished rule fire claims.
type ClaimPurger interface {
	PurgeClaims(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger deletes finished rows older than cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationPurger deletes notifications the user cleared.
type NotificationPurger interface {
	PurgeCleared(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockPurger deletes expired job locks.
type LockPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupDeps lists the tables the cleanup task trims.
type CleanupDeps struct {
	Claims        ClaimPurger
	Held          Purger
	Notifications NotificationPurger
	Locks         LockPurger
	History       Purger
}

// CleanupService enforces the retention window on engine bookkeeping.
type CleanupService struct {
	deps      CleanupDeps
	retention time.Duration
	logger    *slog.Logger
}

// NewCleanupService creates a CleanupService. A non-positive retention uses
// DefaultRetention.
func NewCleanupService(deps CleanupDeps, retention time.Duration, logger *slog.Logger) *CleanupService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{deps: deps, retention: retention, logger: logger}
}

// Run purges every table and returns the total rows deleted. A failing step
// is logged and the remaining steps still run; the joined error is returned.
// Expired locks are purged against now, not the retention cutoff.
func (c *CleanupService) Run(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-c.retention)

	steps := []struct {
		name  string
		purge func() (int64, error)
	}{
		{"rule_fire_claims", func() (int64, error) { return c.deps.Claims.PurgeClaims(ctx, cutoff) }},
		{"held_deliveries", func() (int64, error) { return c.deps.Held.Purge(ctx, cutoff) }},
		{"notifications", func() (int64, error) { return c.deps.Notifications.PurgeCleared(ctx, cutoff) }},
		{"job_locks", func() (int64, error) { return c.deps.Locks.PurgeExpired(ctx, now) }},
		{"job_history", func() (int64, error) { return c.deps.History.Purge(ctx, cutoff) }},
	}

	total := 0
	var errs []error
	for _, s := range steps {
		n, err := s.purge()
		if err != nil {
			c.logger.ErrorContext(ctx, "cleanup step failed",
				"table", s.name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("purging %s: %w", s.name, err))
			continue
		}
		total += int(n)
		c.logger.InfoContext(ctx, "cleanup step complete",
			"table", s.name,
			"deleted", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return total, errors.Join(errs...)
}
