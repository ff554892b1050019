// Package core provides the shared delivery policy used by the tick pipeline.
// It holds the throttle guard, the quiet-hours filter, the per-channel policy
// engine, the held-delivery manager, delivery metrics and the push queue
// publisher.
package core

import (
	"context"
	"time"

	"gardennotify/internal/types"
)

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision string

const (
	// PolicyDeliverImmediately indicates the payload should be sent now.
	PolicyDeliverImmediately PolicyDecision = "deliver"

	// PolicySuppress indicates the channel should not be used at all.
	PolicySuppress PolicyDecision = "suppress"

	// PolicyDefer indicates the payload should be held until ResumeAt.
	PolicyDefer PolicyDecision = "defer"
)

// PolicyResult contains the outcome and metadata from a policy evaluation.
type PolicyResult struct {
	Decision PolicyDecision
	Reason   string
	Hold     types.HoldReason // Set when Decision is PolicyDefer
	ResumeAt *time.Time       // Set when Decision is PolicyDefer
}

// PolicyInput is everything the policy engine looks at for one channel of
// one digest.
type PolicyInput struct {
	Channel  types.ChannelType
	Severity types.Severity
	Prefs    types.NotificationPreference
	// Now overrides the engine clock. Ticks pass their reference time so a
	// replayed tick decides the same way.
	Now time.Time
}

// PolicyEngine decides per channel whether a digest is delivered now, held
// or not sent at all.
type PolicyEngine interface {
	Evaluate(ctx context.Context, in PolicyInput) (PolicyResult, error)
}

// Envelope is one rendered payload addressed to one user on one channel.
type Envelope struct {
	// NotificationID is the id the delivered record will carry; providers
	// receive it as a reference for correlation.
	NotificationID string
	User           types.User
	Title          string
	Body           string
	Severity       types.Severity
	DueAt          time.Time
	CreatedAt      time.Time
}

// Channel sends an Envelope over one transport.
type Channel interface {
	Type() types.ChannelType
	// Send transmits the envelope and returns the provider's message id, if
	// the transport assigns one.
	Send(ctx context.Context, env Envelope) (providerMsgID string, err error)
	// ShouldRetry reports whether a failed send is worth repeating later.
	ShouldRetry(err error) bool
}

// HeldDeliveryRepository is the persistence surface the HeldDeliveryManager
// needs.
type HeldDeliveryRepository interface {
	Insert(ctx context.Context, h *types.HeldDelivery) error
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
	Reschedule(ctx context.Context, id string, resumeAt time.Time) error
	Abandon(ctx context.Context, id string, reason string) error
}

// HeldDeliveryManager records payloads held back by policy and drives their
// retry state once a flush attempts them.
type HeldDeliveryManager interface {
	Hold(ctx context.Context, h *types.HeldDelivery) error
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
	// MarkFailure reschedules a held delivery with backoff, or abandons it
	// once the retry policy is exhausted. It reports whether a retry remains.
	MarkFailure(ctx context.Context, h types.HeldDelivery, now time.Time, reason string) (bool, error)
	// Abandon gives up on a held delivery regardless of attempts left.
	Abandon(ctx context.Context, h types.HeldDelivery, reason string) error
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess  MetricResult = "success"
	MetricFailed   MetricResult = "failed"
	MetricDeferred MetricResult = "deferred"
	MetricSkipped  MetricResult = "skipped"
)

// TickSummary aggregates one tick run for metrics.
type TickSummary struct {
	Users     int
	Fired     int
	Reminders int
	Delivered int
	Held      int
	Failed    int
	Duration  time.Duration
}

// NotificationMetrics abstracts CloudWatch operations for the engine.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordTick(ctx context.Context, summary TickSummary)
}

// RetryPolicy defines the exponential backoff parameters for held delivery
// retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// HeldRetryPolicy is the retry policy for held deliveries whose flush failed.
// Delays are whole minutes because flushes only run on ticks.
var HeldRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     1 * time.Minute,
	MaxDelay:      30 * time.Minute,
	BackoffFactor: 3.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
