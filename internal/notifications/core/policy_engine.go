package core

import (
	"context"
	"fmt"

	"gardennotify/internal/types"
)

// Compile-time assertion that PolicyEngineImpl implements PolicyEngine.
var _ PolicyEngine = (*PolicyEngineImpl)(nil)

// PolicyEngineImpl is the production implementation of PolicyEngine.
// It applies channel toggles, quiet hours, the digest hour and the critical
// severity override.
type PolicyEngineImpl struct {
	clock  types.Clock
	logger types.Logger
}

// NewPolicyEngine creates a new PolicyEngineImpl with the given clock and logger.
func NewPolicyEngine(clock types.Clock, logger types.Logger) *PolicyEngineImpl {
	return &PolicyEngineImpl{
		clock:  clock,
		logger: logger,
	}
}

// Evaluate determines the delivery policy for one channel of a digest.
//
// Decision logic (in order of precedence):
//  1. Channel disabled in preferences -> suppress
//  2. In-app -> always deliver (the persisted record is the delivery)
//  3. Critical severity -> deliver immediately, bypassing quiet and digest hours
//  4. Quiet hours active -> defer until the window ends
//  5. Email with a digest hour set, outside that hour -> defer to the next digest hour
//  6. Otherwise -> deliver immediately
//
// Quiet hours are evaluated in the preference timezone. A timezone that does
// not resolve fails open.
func (e *PolicyEngineImpl) Evaluate(_ context.Context, in PolicyInput) (PolicyResult, error) {
	if !ChannelEnabled(in.Channel, in.Prefs) {
		return PolicyResult{
			Decision: PolicySuppress,
			Reason:   fmt.Sprintf("%s disabled in preferences", in.Channel),
		}, nil
	}

	if in.Channel == types.ChannelInApp {
		return PolicyResult{
			Decision: PolicyDeliverImmediately,
			Reason:   "in-app is never held",
		}, nil
	}

	if in.Severity == types.SeverityCritical {
		return PolicyResult{
			Decision: PolicyDeliverImmediately,
			Reason:   "critical severity bypasses quiet hours",
		}, nil
	}

	loc, err := types.ResolveLocation(in.Prefs.Timezone)
	if err != nil {
		// Log the error but don't hold the payload -- fail open.
		e.logger.Error("policy timezone unresolvable, delivering anyway",
			"error", err.Error(),
			"user_id", in.Prefs.UserID,
			"channel", string(in.Channel),
		)
		return PolicyResult{
			Decision: PolicyDeliverImmediately,
			Reason:   "timezone unresolvable, fail-open",
		}, nil
	}

	now := in.Now
	if now.IsZero() {
		now = e.clock.Now()
	}
	local := now.In(loc)

	if IsQuietNow(local.Hour(), in.Prefs.DND) {
		resumeAt := quietWindowEnd(local, in.Prefs.DND).UTC()
		return PolicyResult{
			Decision: PolicyDefer,
			Reason: fmt.Sprintf("quiet hours active (%02d:00-%02d:00 %s)",
				in.Prefs.DND.StartHour, in.Prefs.DND.EndHour, loc),
			Hold:     types.HoldQuietHours,
			ResumeAt: &resumeAt,
		}, nil
	}

	if in.Channel == types.ChannelEmail && in.Prefs.DigestHour != nil && local.Hour() != *in.Prefs.DigestHour {
		resumeAt := nextDigestAt(local, *in.Prefs.DigestHour).UTC()
		return PolicyResult{
			Decision: PolicyDefer,
			Reason:   fmt.Sprintf("email batched until digest hour %02d:00 %s", *in.Prefs.DigestHour, loc),
			Hold:     types.HoldDigestHour,
			ResumeAt: &resumeAt,
		}, nil
	}

	return PolicyResult{
		Decision: PolicyDeliverImmediately,
		Reason:   "no policy restrictions apply",
	}, nil
}

// ChannelEnabled reports whether the user turned ch on.
func ChannelEnabled(ch types.ChannelType, prefs types.NotificationPreference) bool {
	switch ch {
	case types.ChannelEmail:
		return prefs.EmailEnabled
	case types.ChannelPush:
		return prefs.PushEnabled
	case types.ChannelInApp:
		return prefs.InAppEnabled
	default:
		return false
	}
}
