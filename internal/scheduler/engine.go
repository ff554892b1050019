package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gardennotify/internal/conditions"
	"gardennotify/internal/notifications/core"
	"gardennotify/internal/notifications/digest"
	"gardennotify/internal/notifications/dispatch"
	"gardennotify/internal/schedule"
	"gardennotify/internal/types"
)

// Engine defaults, overridable through EngineConfig.
const (
	DefaultConcurrency      = 8
	DefaultUserBatch        = 500
	DefaultClaimLease       = 5 * time.Minute
	DefaultMaxClaimAttempts = 5
)

// UserSource lists the users a tick visits.
type UserSource interface {
	// ListActive returns up to limit users with id > afterID that have
	// rules, due reminders or pending deliveries, ordered by id.
	ListActive(ctx context.Context, afterID string, now time.Time, limit int) ([]types.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*types.UserProfile, error)
}

// RuleStore reads rules and owns the fire claims.
type RuleStore interface {
	ListEnabled(ctx context.Context, userID string) ([]types.NotificationRule, error)
	// ClaimFire advances last_fired_at to now if the stored throttle allows
	// it. Any error means the fire must not be delivered.
	ClaimFire(ctx context.Context, rule types.NotificationRule, claimID string, now time.Time, lease time.Duration) (types.RuleFiring, bool, error)
	LeaseStaleClaims(ctx context.Context, userID string, now time.Time, lease time.Duration, maxAttempts int) ([]types.RuleFiring, error)
	MarkClaimsDelivered(ctx context.Context, claimIDs []string, at time.Time) error
	ReleaseClaims(ctx context.Context, claimIDs []string, now time.Time) error
}

// ReminderStore leases due reminders and settles them after delivery.
type ReminderStore interface {
	LeaseDue(ctx context.Context, userID string, now time.Time, lease time.Duration, limit int) ([]types.Reminder, error)
	MarkSent(ctx context.Context, ids []string, at time.Time) error
	Advance(ctx context.Context, id string, nextDue time.Time) error
	Release(ctx context.Context, ids []string) error
}

// GardenSource reads the garden context around a user.
type GardenSource interface {
	ListFocus(ctx context.Context, userID string) ([]types.FocusItem, error)
	ListPlantings(ctx context.Context, userID string) ([]types.Planting, error)
	LatestSnapshot(ctx context.Context, zoneKey string) (*types.ZoneSnapshot, error)
}

// Deliverer sends digests and flushes held deliveries. Satisfied by
// *dispatch.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, req dispatch.Request) dispatch.Report
	Flush(ctx context.Context, req dispatch.FlushRequest) (dispatch.FlushReport, error)
}

// EngineConfig tunes the tick. Zero values take the defaults.
type EngineConfig struct {
	Concurrency      int
	UserBatch        int
	ReminderBatch    int
	ClaimLease       time.Duration
	MaxClaimAttempts int
}

// EngineDeps holds the engine's collaborators.
type EngineDeps struct {
	Users      UserSource
	Rules      RuleStore
	Reminders  ReminderStore
	Garden     GardenSource
	Dispatcher Deliverer
	// Evaluator defaults to a conditions.Evaluator without logging.
	Evaluator *conditions.Evaluator
	// Metrics defaults to core.NoopMetrics.
	Metrics core.NotificationMetrics
	Logger  *slog.Logger
	// NewID generates claim ids. Defaults to uuid.NewString.
	NewID func() string
}

// Engine runs the notification pipeline for every active user on a tick.
type Engine struct {
	users      UserSource
	rules      RuleStore
	reminders  ReminderStore
	garden     GardenSource
	dispatcher Deliverer
	evaluator  *conditions.Evaluator
	metrics    core.NotificationMetrics
	logger     *slog.Logger
	newID      func() string
	cfg        EngineConfig
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.UserBatch <= 0 {
		cfg.UserBatch = DefaultUserBatch
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.MaxClaimAttempts <= 0 {
		cfg.MaxClaimAttempts = DefaultMaxClaimAttempts
	}
	if deps.Evaluator == nil {
		deps.Evaluator = conditions.NewEvaluator(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = core.NoopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Engine{
		users:      deps.Users,
		rules:      deps.Rules,
		reminders:  deps.Reminders,
		garden:     deps.Garden,
		dispatcher: deps.Dispatcher,
		evaluator:  deps.Evaluator,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		newID:      deps.NewID,
		cfg:        cfg,
	}
}

// Tick runs every active user's pipeline for the minute containing now.
// Users are processed in keyset-paged batches with bounded parallelism. A
// failing user is logged and never aborts the tick; only listing users or
// cancellation returns an error.
func (e *Engine) Tick(ctx context.Context, now time.Time) (core.TickSummary, error) {
	now = now.UTC().Truncate(time.Minute)
	started := time.Now()

	var (
		mu      sync.Mutex
		summary core.TickSummary
	)
	err := e.eachUser(ctx, now, func(ctx context.Context, p types.UserProfile) {
		res, err := e.runUser(ctx, p, now, false)
		if err != nil {
			e.logger.ErrorContext(ctx, "user pipeline failed",
				"user_id", p.User.ID,
				"error", err,
			)
		}
		mu.Lock()
		summary.Users++
		summary.Fired += res.Fired
		summary.Reminders += res.Reminders
		summary.Delivered += res.Delivered + res.Flushed
		summary.Held += res.Held
		summary.Failed += res.Failed
		mu.Unlock()
	})

	summary.Duration = time.Since(started)
	e.metrics.RecordTick(ctx, summary)
	e.logger.InfoContext(ctx, "tick complete",
		"tick", now.Format(time.RFC3339),
		"users", summary.Users,
		"fired", summary.Fired,
		"reminders", summary.Reminders,
		"delivered", summary.Delivered,
		"held", summary.Held,
		"failed", summary.Failed,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary, err
}

// FlushHeld sends every active user's held deliveries whose resume time has
// passed, without evaluating rules or reminders. Returns the number of held
// deliveries sent.
func (e *Engine) FlushHeld(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC().Truncate(time.Minute)

	var (
		mu      sync.Mutex
		flushed int
	)
	err := e.eachUser(ctx, now, func(ctx context.Context, p types.UserProfile) {
		fr, err := e.dispatcher.Flush(ctx, dispatch.FlushRequest{User: p.User, Prefs: p.Preferences, Now: now})
		if err != nil {
			e.logger.ErrorContext(ctx, "held flush failed",
				"user_id", p.User.ID,
				"error", err,
			)
		}
		mu.Lock()
		flushed += fr.Delivered
		mu.Unlock()
	})
	return flushed, err
}

// CheckUser runs one user's pipeline immediately and flushes all of their
// held deliveries regardless of resume time.
func (e *Engine) CheckUser(ctx context.Context, userID string, now time.Time) (UserResult, error) {
	p, err := e.users.GetProfile(ctx, userID)
	if err != nil {
		return UserResult{}, err
	}
	return e.runUser(ctx, *p, now.UTC().Truncate(time.Minute), true)
}

// eachUser pages through active users and calls fn for each with at most
// cfg.Concurrency calls in flight.
func (e *Engine) eachUser(ctx context.Context, now time.Time, fn func(context.Context, types.UserProfile)) error {
	after := ""
	for {
		users, err := e.users.ListActive(ctx, after, now, e.cfg.UserBatch)
		if err != nil {
			return fmt.Errorf("listing active users: %w", err)
		}
		if len(users) == 0 {
			return nil
		}

		var g errgroup.Group
		g.SetLimit(e.cfg.Concurrency)
		for _, p := range users {
			g.Go(func() error {
				fn(ctx, p)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}

		last := users[len(users)-1].User.ID
		if len(users) < e.cfg.UserBatch || last == after {
			return nil
		}
		after = last
	}
}

// userContext lazily loads the garden data a pipeline run may need.
type userContext struct {
	e     *Engine
	user  types.User
	local schedule.LocalTime

	plantings       []types.Planting
	plantingsLoaded bool

	snapshot    *types.ContextSnapshot
	snapshotErr error
	snapLoaded  bool
}

func (uc *userContext) loadPlantings(ctx context.Context) ([]types.Planting, error) {
	if uc.plantingsLoaded {
		return uc.plantings, nil
	}
	plantings, err := uc.e.garden.ListPlantings(ctx, uc.user.ID)
	if err != nil {
		return nil, err
	}
	uc.plantings, uc.plantingsLoaded = plantings, true
	return plantings, nil
}

// loadSnapshot builds the condition snapshot once per run. A failure is
// remembered so every rule that needs it fails closed.
func (uc *userContext) loadSnapshot(ctx context.Context) (*types.ContextSnapshot, error) {
	if uc.snapLoaded {
		return uc.snapshot, uc.snapshotErr
	}
	uc.snapLoaded = true

	var zone *types.ZoneSnapshot
	if uc.user.ZoneKey != "" {
		z, err := uc.e.garden.LatestSnapshot(ctx, uc.user.ZoneKey)
		if err != nil {
			uc.snapshotErr = fmt.Errorf("loading zone snapshot: %w", err)
			return nil, uc.snapshotErr
		}
		zone = z
	}
	plantings, err := uc.loadPlantings(ctx)
	if err != nil {
		uc.snapshotErr = fmt.Errorf("loading plantings: %w", err)
		return nil, uc.snapshotErr
	}

	var (
		southern bool
		weather  *types.WeatherObservation
		soil     *float64
	)
	if zone != nil {
		southern, weather, soil = zone.Southern, zone.Weather, zone.SoilMoisturePct
	}
	snap := conditions.BuildSnapshot(uc.local.Time(), southern, weather, soil, plantings)
	uc.snapshot = &snap
	return uc.snapshot, nil
}

// runUser is the per-user pipeline: match and claim rules, pick up stale
// claims and due reminders, compose one digest, dispatch it, settle the
// claims and reminders, then flush held deliveries.
func (e *Engine) runUser(ctx context.Context, p types.UserProfile, now time.Time, force bool) (UserResult, error) {
	var res UserResult
	log := e.logger.With("user_id", p.User.ID)
	u, prefs := p.User, sanitizePreferences(ctx, log, p.Preferences)

	loc, err := types.ResolveLocation(prefs.Timezone)
	if err != nil {
		// Unresolved local time matches no schedule; reminders still go out.
		log.WarnContext(ctx, "unresolvable timezone, skipping rules",
			"timezone", prefs.Timezone,
			"error", err,
		)
	}
	uc := &userContext{e: e, user: u, local: schedule.Localize(now, loc)}

	firings, err := e.fireRules(ctx, log, uc, now)
	if err != nil {
		return res, err
	}

	stale, err := e.rules.LeaseStaleClaims(ctx, u.ID, now, e.cfg.ClaimLease, e.cfg.MaxClaimAttempts)
	if err != nil {
		log.ErrorContext(ctx, "failed to lease stale claims", "error", err)
	}
	firings = append(firings, stale...)

	reminders, err := e.reminders.LeaseDue(ctx, u.ID, now, e.cfg.ClaimLease, e.cfg.ReminderBatch)
	if err != nil {
		log.ErrorContext(ctx, "failed to lease due reminders", "error", err)
	}
	res.Fired, res.Reminders = len(firings), len(reminders)

	var errs []error
	if len(firings) > 0 || len(reminders) > 0 {
		d := e.compose(ctx, log, uc, reminders, firings)
		report := e.dispatcher.Deliver(ctx, dispatch.Request{User: u, Prefs: prefs, Digest: d, Now: now})
		res.Delivered, res.Held, res.Failed = report.Delivered(), report.Held(), report.Failed()

		if report.Retry() {
			errs = append(errs, e.release(ctx, firings, reminders, now))
		} else {
			errs = append(errs, e.settle(ctx, log, firings, reminders, now, loc))
		}
	}

	fr, err := e.dispatcher.Flush(ctx, dispatch.FlushRequest{User: u, Prefs: prefs, Now: now, Force: force})
	if err != nil {
		errs = append(errs, fmt.Errorf("flushing held deliveries: %w", err))
	}
	res.Flushed = fr.Delivered
	res.Failed += fr.Failed

	return res, errors.Join(errs...)
}

// sanitizePreferences clears the digest hour or quiet hours when they fail
// validation, which leaves those deliveries immediate. The timezone is left
// for runUser to resolve.
func sanitizePreferences(ctx context.Context, log *slog.Logger, prefs types.NotificationPreference) types.NotificationPreference {
	for range 2 {
		err := types.ValidatePreference(prefs)
		switch {
		case err == nil, types.IsCode(err, types.ErrCodeValidationInvalidTimezone):
			return prefs
		case types.IsCode(err, types.ErrCodeValidationDigestHour):
			prefs.DigestHour = nil
		case types.IsCode(err, types.ErrCodeValidationQuietHours):
			prefs.DND = types.DNDWindow{}
		default:
			return prefs
		}
		log.WarnContext(ctx, "ignoring invalid notification preference", "error", err)
	}
	return prefs
}

// fireRules matches, evaluates and claims the user's enabled rules. Only
// claimed fires are returned.
func (e *Engine) fireRules(ctx context.Context, log *slog.Logger, uc *userContext, now time.Time) ([]types.RuleFiring, error) {
	rules, err := e.rules.ListEnabled(ctx, uc.user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	var firings []types.RuleFiring
	for _, rule := range rules {
		if !schedule.Matches(uc.local, rule.Schedule) {
			continue
		}
		if !core.Allow(now, rule.ThrottleSecs, rule.LastFiredAt) {
			continue
		}

		var snap types.ContextSnapshot
		if conditions.NeedsSnapshot(rule) {
			s, err := uc.loadSnapshot(ctx)
			if err != nil {
				log.WarnContext(ctx, "context unavailable, rule not evaluated",
					"rule_id", rule.ID,
					"error", err,
				)
				continue
			}
			snap = *s
		}
		if !e.evaluator.Evaluate(rule, snap) {
			continue
		}

		firing, claimed, err := e.rules.ClaimFire(ctx, rule, e.newID(), now, e.cfg.ClaimLease)
		if err != nil {
			log.ErrorContext(ctx, "failed to claim rule fire",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		if !claimed {
			continue
		}
		log.InfoContext(ctx, "rule fired",
			"rule_id", rule.ID,
			"claim_id", firing.ClaimID,
		)
		firings = append(firings, firing)
	}
	return firings, nil
}

func (e *Engine) compose(ctx context.Context, log *slog.Logger, uc *userContext, reminders []types.Reminder, firings []types.RuleFiring) digest.Digest {
	plantings, err := uc.loadPlantings(ctx)
	if err != nil {
		log.WarnContext(ctx, "plantings unavailable, digest lines lack context", "error", err)
	}
	focus, err := e.garden.ListFocus(ctx, uc.user.ID)
	if err != nil {
		log.WarnContext(ctx, "focus items unavailable, digest unpinned", "error", err)
	}
	lines := digest.NewComposer(digest.NewTargetIndex(plantings)).Compose(reminders, firings, focus)
	return digest.Render(lines)
}

// release puts claims and reminders back so the next tick retries them.
func (e *Engine) release(ctx context.Context, firings []types.RuleFiring, reminders []types.Reminder, now time.Time) error {
	var errs []error
	if err := e.rules.ReleaseClaims(ctx, claimIDs(firings), now); err != nil {
		errs = append(errs, fmt.Errorf("releasing claims: %w", err))
	}
	if err := e.reminders.Release(ctx, reminderIDs(reminders)); err != nil {
		errs = append(errs, fmt.Errorf("releasing reminders: %w", err))
	}
	return errors.Join(errs...)
}

// settle finalizes delivered claims and reminders. One-shot reminders become
// terminal; cadenced reminders advance past now.
func (e *Engine) settle(ctx context.Context, log *slog.Logger, firings []types.RuleFiring, reminders []types.Reminder, now time.Time, loc *time.Location) error {
	var errs []error
	if err := e.rules.MarkClaimsDelivered(ctx, claimIDs(firings), now); err != nil {
		errs = append(errs, fmt.Errorf("marking claims delivered: %w", err))
	}

	var oneShot []string
	for _, r := range reminders {
		next, ok := NextDue(r.DueAt, r.Cadence, now, loc)
		if !ok {
			oneShot = append(oneShot, r.ID)
			continue
		}
		if err := e.reminders.Advance(ctx, r.ID, next); err != nil {
			if types.IsCode(err, types.ErrCodeNotFoundReminder) {
				log.WarnContext(ctx, "reminder gone before advance", "reminder_id", r.ID)
				continue
			}
			errs = append(errs, fmt.Errorf("advancing reminder %s: %w", r.ID, err))
		}
	}
	if err := e.reminders.MarkSent(ctx, oneShot, now); err != nil {
		errs = append(errs, fmt.Errorf("marking reminders sent: %w", err))
	}
	return errors.Join(errs...)
}

func claimIDs(firings []types.RuleFiring) []string {
	ids := make([]string, 0, len(firings))
	for _, f := range firings {
		ids = append(ids, f.ClaimID)
	}
	return ids
}

func reminderIDs(reminders []types.Reminder) []string {
	ids := make([]string, 0, len(reminders))
	for _, r := range reminders {
		ids = append(ids, r.ID)
	}
	return ids
}
