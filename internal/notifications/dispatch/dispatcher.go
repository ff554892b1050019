// Package dispatch fans rendered digests out to the delivery channels. Each
// channel is decided and sent independently, so partial success is the
// normal case rather than an error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gardennotify/internal/notifications/core"
	"gardennotify/internal/notifications/digest"
	"gardennotify/internal/types"

	"github.com/google/uuid"
)

// channelOrder fixes the order channels are attempted in. In-app goes first
// since it cannot fail on transport.
var channelOrder = []types.ChannelType{types.ChannelInApp, types.ChannelEmail, types.ChannelPush}

// DefaultHeldLease is how long a flush owns the held deliveries it leased.
const DefaultHeldLease = 2 * time.Minute

// NotificationStore persists delivered records.
type NotificationStore interface {
	Create(ctx context.Context, n *types.Notification) error
}

// HeldLeaser leases due held deliveries for a flush. Leasing increments the
// attempt counter of every returned row.
type HeldLeaser interface {
	LeaseDue(ctx context.Context, userID string, now time.Time, force bool, lease time.Duration) ([]types.HeldDelivery, error)
}

// Outcome is what happened on one channel.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeHeld       Outcome = "held"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// ChannelResult is the outcome of one channel of one delivery.
type ChannelResult struct {
	Channel        types.ChannelType
	Outcome        Outcome
	NotificationID string
	ProviderMsgID  string
	Reason         string
	Err            error
}

// Report collects the per-channel results of a Deliver call.
type Report struct {
	Results []ChannelResult
}

func (r Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) Delivered() int { return r.count(OutcomeDelivered) }
func (r Report) Held() int      { return r.count(OutcomeHeld) }
func (r Report) Failed() int    { return r.count(OutcomeFailed) }

// Retry reports whether the delivered items should stay due. Retryable send
// failures are held per channel, so this is the case only when some channel
// failed for good (or could not be held) and no channel delivered or held
// the payload. A user who disabled every channel has nothing to retry.
func (r Report) Retry() bool {
	return r.Failed() > 0 && r.Delivered() == 0 && r.Held() == 0
}

// Request is one user's rendered digest at one instant.
type Request struct {
	User   types.User
	Prefs  types.NotificationPreference
	Digest digest.Digest
	Now    time.Time
}

// FlushRequest asks for a user's due held deliveries to be sent. Force sends
// every pending held delivery regardless of its resume time.
type FlushRequest struct {
	User  types.User
	Prefs types.NotificationPreference
	Now   time.Time
	Force bool
}

// FlushReport summarizes a flush.
type FlushReport struct {
	Leased    int
	Delivered int
	Failed    int
	Abandoned int
}

// Config holds the Dispatcher's collaborators.
type Config struct {
	Channels      []core.Channel
	Policy        core.PolicyEngine
	Held          core.HeldDeliveryManager
	HeldLeaser    HeldLeaser
	Notifications NotificationStore
	Metrics       core.NotificationMetrics
	Logger        types.Logger
	// HeldLease defaults to DefaultHeldLease.
	HeldLease time.Duration
	// NewID defaults to random UUIDs.
	NewID func() string
}

// Dispatcher routes digests to channels according to policy.
type Dispatcher struct {
	channels      map[types.ChannelType]core.Channel
	policy        core.PolicyEngine
	held          core.HeldDeliveryManager
	leaser        HeldLeaser
	notifications NotificationStore
	metrics       core.NotificationMetrics
	logger        types.Logger
	heldLease     time.Duration
	newID         func() string
}

// New creates a Dispatcher. Channels missing from cfg.Channels are never
// attempted.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		channels:      make(map[types.ChannelType]core.Channel, len(cfg.Channels)),
		policy:        cfg.Policy,
		held:          cfg.Held,
		leaser:        cfg.HeldLeaser,
		notifications: cfg.Notifications,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		heldLease:     cfg.HeldLease,
		newID:         cfg.NewID,
	}
	for _, ch := range cfg.Channels {
		d.channels[ch.Type()] = ch
	}
	if d.metrics == nil {
		d.metrics = core.NoopMetrics{}
	}
	if d.heldLease <= 0 {
		d.heldLease = DefaultHeldLease
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d
}

// Deliver sends req.Digest on every configured channel. Each channel gets its
// own policy decision; a failure on one never affects another.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) Report {
	var report Report
	if req.Digest.Empty() {
		return report
	}

	log := d.logger.With("user_id", req.User.ID)
	for _, ct := range channelOrder {
		ch, ok := d.channels[ct]
		if !ok {
			continue
		}
		res := d.deliverChannel(ctx, log, ch, req)
		report.Results = append(report.Results, res)
	}

	return report
}

func (d *Dispatcher) deliverChannel(ctx context.Context, log types.Logger, ch core.Channel, req Request) ChannelResult {
	ct := ch.Type()
	res := ChannelResult{Channel: ct}

	decision, err := d.policy.Evaluate(ctx, core.PolicyInput{
		Channel:  ct,
		Severity: req.Digest.Severity,
		Prefs:    req.Prefs,
		Now:      req.Now,
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		log.Error("policy evaluation failed", "channel", string(ct), "error", err.Error())
		d.metrics.RecordDelivery(ctx, ct, core.MetricFailed)
		return res
	}
	res.Reason = decision.Reason

	switch decision.Decision {
	case core.PolicySuppress:
		res.Outcome = OutcomeSuppressed
		d.metrics.RecordDelivery(ctx, ct, core.MetricSkipped)
		return res

	case core.PolicyDefer:
		h := heldFor(req, ct, decision.Hold)
		h.ID = d.newID()
		if decision.ResumeAt != nil {
			h.ResumeAt = *decision.ResumeAt
		}
		if err := d.held.Hold(ctx, h); err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			log.Error("failed to hold delivery", "channel", string(ct), "error", err.Error())
			d.metrics.RecordDelivery(ctx, ct, core.MetricFailed)
			return res
		}
		res.Outcome = OutcomeHeld
		d.metrics.RecordDelivery(ctx, ct, core.MetricDeferred)
		return res
	}

	env := core.Envelope{
		NotificationID: d.newID(),
		User:           req.User,
		Title:          req.Digest.Title,
		Body:           req.Digest.Body,
		Severity:       req.Digest.Severity,
		DueAt:          req.Digest.DueAt,
		CreatedAt:      req.Now,
	}
	res = d.send(ctx, log, ch, env, ruleRef(req.Digest))
	if res.Outcome == OutcomeFailed && ch.ShouldRetry(res.Err) {
		return d.holdForRetry(ctx, log, res, req)
	}
	return res
}

// holdForRetry parks the payload of a retryable send failure as a held
// delivery, so the channel is retried by Flush with the held-delivery backoff
// while the channels that succeeded are not sent again. The failed send counts
// as the first attempt.
func (d *Dispatcher) holdForRetry(ctx context.Context, log types.Logger, failed ChannelResult, req Request) ChannelResult {
	ct := failed.Channel
	h := heldFor(req, ct, types.HoldSendFailed)
	h.ID = d.newID()
	h.Attempts = 1
	h.ResumeAt = req.Now.Add(core.CalculateNextRetry(core.HeldRetryPolicy, 0))

	if err := d.held.Hold(ctx, h); err != nil {
		log.Error("failed to hold delivery for retry", "channel", string(ct), "error", err.Error())
		failed.Err = errors.Join(failed.Err, err)
		return failed
	}
	d.metrics.RecordDelivery(ctx, ct, core.MetricDeferred)
	return ChannelResult{
		Channel: ct,
		Outcome: OutcomeHeld,
		Reason:  string(types.HoldSendFailed),
		Err:     failed.Err,
	}
}

func heldFor(req Request, ct types.ChannelType, reason types.HoldReason) *types.HeldDelivery {
	return &types.HeldDelivery{
		UserID:    req.User.ID,
		Channel:   ct,
		Title:     req.Digest.Title,
		Body:      req.Digest.Body,
		Severity:  req.Digest.Severity,
		DueAt:     req.Digest.DueAt,
		Reason:    reason,
		CreatedAt: req.Now,
	}
}

// send transmits env and persists the delivered record. For in-app the record
// is the delivery, so a persistence failure fails the channel; for external
// transports the message is already out and only the record is lost.
func (d *Dispatcher) send(ctx context.Context, log types.Logger, ch core.Channel, env core.Envelope, ruleID *string) ChannelResult {
	ct := ch.Type()
	res := ChannelResult{Channel: ct, NotificationID: env.NotificationID}

	start := time.Now()
	msgID, err := ch.Send(ctx, env)
	d.metrics.RecordLatency(ctx, ct, time.Since(start))
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		log.Warn("channel send failed",
			"channel", string(ct),
			"notification_id", env.NotificationID,
			"retryable", ch.ShouldRetry(err),
			"error", err.Error(),
		)
		d.metrics.RecordDelivery(ctx, ct, core.MetricFailed)
		return res
	}
	res.ProviderMsgID = msgID

	n := &types.Notification{
		ID:        env.NotificationID,
		UserID:    env.User.ID,
		Title:     env.Title,
		Body:      env.Body,
		Severity:  env.Severity,
		Channel:   ct,
		DueAt:     env.DueAt,
		RuleID:    ruleID,
		CreatedAt: env.CreatedAt,
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		log.Error("failed to persist notification",
			"channel", string(ct),
			"notification_id", env.NotificationID,
			"error", err.Error(),
		)
		if ct == types.ChannelInApp {
			res.Outcome, res.Err = OutcomeFailed, err
			d.metrics.RecordDelivery(ctx, ct, core.MetricFailed)
			return res
		}
	}

	res.Outcome = OutcomeDelivered
	d.metrics.RecordDelivery(ctx, ct, core.MetricSuccess)
	return res
}

// Flush sends the user's due held deliveries, merged into one payload per
// channel. Failed merges go back to the held-delivery retry policy.
func (d *Dispatcher) Flush(ctx context.Context, req FlushRequest) (FlushReport, error) {
	var report FlushReport

	held, err := d.leaser.LeaseDue(ctx, req.User.ID, req.Now, req.Force, d.heldLease)
	if err != nil {
		return report, fmt.Errorf("Flush: lease held deliveries: %w", err)
	}
	report.Leased = len(held)
	if len(held) == 0 {
		return report, nil
	}

	byChannel := make(map[types.ChannelType][]types.HeldDelivery)
	for _, h := range held {
		byChannel[h.Channel] = append(byChannel[h.Channel], h)
	}

	log := d.logger.With("user_id", req.User.ID)
	var errs []error
	for _, ct := range channelOrder {
		items := byChannel[ct]
		if len(items) == 0 {
			continue
		}
		delete(byChannel, ct)

		ch, ok := d.channels[ct]
		if !ok || !core.ChannelEnabled(ct, req.Prefs) {
			report.Abandoned += len(items)
			errs = append(errs, d.abandonAll(ctx, items, "channel disabled"))
			continue
		}

		merged := digest.MergeHeld(items)
		env := core.Envelope{
			NotificationID: d.newID(),
			User:           req.User,
			Title:          merged.Title,
			Body:           merged.Body,
			Severity:       merged.Severity,
			DueAt:          merged.DueAt,
			CreatedAt:      req.Now,
		}
		res := d.send(ctx, log, ch, env, nil)
		if res.Outcome == OutcomeDelivered {
			report.Delivered += len(items)
			errs = append(errs, d.held.MarkDelivered(ctx, heldIDs(items), req.Now))
			continue
		}

		report.Failed += len(items)
		if !ch.ShouldRetry(res.Err) {
			report.Abandoned += len(items)
			errs = append(errs, d.abandonAll(ctx, items, res.Err.Error()))
			continue
		}
		for _, h := range items {
			_, err := d.held.MarkFailure(ctx, h, req.Now, res.Err.Error())
			errs = append(errs, err)
		}
	}

	// Channels this build does not know about can never be flushed.
	for ct, items := range byChannel {
		log.Warn("held deliveries for unknown channel", "channel", string(ct), "count", len(items))
		report.Abandoned += len(items)
		errs = append(errs, d.abandonAll(ctx, items, "unknown channel"))
	}

	return report, errors.Join(errs...)
}

func (d *Dispatcher) abandonAll(ctx context.Context, items []types.HeldDelivery, reason string) error {
	var errs []error
	for _, h := range items {
		errs = append(errs, d.held.Abandon(ctx, h, reason))
	}
	return errors.Join(errs...)
}

func heldIDs(items []types.HeldDelivery) []string {
	ids := make([]string, len(items))
	for i, h := range items {
		ids[i] = h.ID
	}
	return ids
}

// ruleRef links the delivered record to a rule when the digest is exactly one
// rule firing.
func ruleRef(d digest.Digest) *string {
	if len(d.Lines) != 1 || d.Lines[0].Kind != digest.ItemRule {
		return nil
	}
	id := d.Lines[0].ID
	return &id
}
