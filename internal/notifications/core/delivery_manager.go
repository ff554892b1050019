package core

import (
	"context"
	"fmt"
	"time"

	"gardennotify/internal/types"
)

// Compile-time assertion that HeldDeliveryManagerImpl implements HeldDeliveryManager.
var _ HeldDeliveryManager = (*HeldDeliveryManagerImpl)(nil)

// HeldDeliveryManagerImpl is the production implementation of
// HeldDeliveryManager. It wraps the held delivery repository and enforces the
// retry policy.
type HeldDeliveryManagerImpl struct {
	repo        HeldDeliveryRepository
	retryPolicy RetryPolicy
	logger      types.Logger
}

// NewHeldDeliveryManager creates a new HeldDeliveryManagerImpl with the given
// repository, retry policy, and logger.
func NewHeldDeliveryManager(repo HeldDeliveryRepository, retryPolicy RetryPolicy, logger types.Logger) *HeldDeliveryManagerImpl {
	return &HeldDeliveryManagerImpl{
		repo:        repo,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// Hold persists a payload that policy deferred.
func (m *HeldDeliveryManagerImpl) Hold(ctx context.Context, h *types.HeldDelivery) error {
	if err := m.repo.Insert(ctx, h); err != nil {
		return fmt.Errorf("Hold: %w", err)
	}

	m.logger.Info("delivery held",
		"held_id", h.ID,
		"user_id", h.UserID,
		"channel", string(h.Channel),
		"reason", string(h.Reason),
		"resume_at", h.ResumeAt.Format(time.RFC3339),
	)

	return nil
}

// MarkDelivered records that the held deliveries were sent as part of a flush.
func (m *HeldDeliveryManagerImpl) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.repo.MarkDelivered(ctx, ids, at); err != nil {
		return fmt.Errorf("MarkDelivered: %w", err)
	}
	return nil
}

// MarkFailure handles a failed flush of one held delivery. h.Attempts is the
// attempt count including the one that just failed. While attempts remain
// under the policy maximum the delivery is rescheduled with backoff;
// afterwards it is abandoned.
func (m *HeldDeliveryManagerImpl) MarkFailure(ctx context.Context, h types.HeldDelivery, now time.Time, reason string) (bool, error) {
	if h.Attempts < m.retryPolicy.MaxAttempts {
		resumeAt := now.Add(CalculateNextRetry(m.retryPolicy, h.Attempts-1))
		if err := m.repo.Reschedule(ctx, h.ID, resumeAt); err != nil {
			return false, fmt.Errorf("MarkFailure: reschedule: %w", err)
		}

		m.logger.Warn("held delivery failed, will retry",
			"held_id", h.ID,
			"channel", string(h.Channel),
			"attempt", h.Attempts,
			"max_attempts", m.retryPolicy.MaxAttempts,
			"resume_at", resumeAt.Format(time.RFC3339),
			"reason", reason,
		)

		return true, nil
	}

	if err := m.repo.Abandon(ctx, h.ID, reason); err != nil {
		return false, fmt.Errorf("MarkFailure: abandon: %w", err)
	}

	m.logger.Error("held delivery permanently failed",
		"held_id", h.ID,
		"channel", string(h.Channel),
		"attempt", h.Attempts,
		"reason", reason,
	)

	return false, nil
}

// Abandon gives up on a held delivery whose failure is permanent, such as a
// blocked recipient.
func (m *HeldDeliveryManagerImpl) Abandon(ctx context.Context, h types.HeldDelivery, reason string) error {
	if err := m.repo.Abandon(ctx, h.ID, reason); err != nil {
		return fmt.Errorf("Abandon: %w", err)
	}
	m.logger.Warn("held delivery abandoned",
		"held_id", h.ID,
		"channel", string(h.Channel),
		"reason", reason,
	)
	return nil
}
