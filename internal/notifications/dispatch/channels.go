package dispatch

import (
	"context"
	"strings"

	"gardennotify/internal/notifications/core"
	"gardennotify/internal/types"
)

// InAppChannel is the in-app inbox. The persisted Notification row is the
// delivery, so Send has nothing to transmit.
type InAppChannel struct{}

func (InAppChannel) Type() types.ChannelType                             { return types.ChannelInApp }
func (InAppChannel) Send(context.Context, core.Envelope) (string, error) { return "", nil }
func (InAppChannel) ShouldRetry(err error) bool                          { return err != nil }

// PushPublisher is the queue the push channel hands messages to.
type PushPublisher interface {
	Publish(ctx context.Context, msg core.PushMessage) (string, error)
}

// PushChannel enqueues push notifications for the fan-out service.
type PushChannel struct {
	publisher PushPublisher
}

// NewPushChannel creates a PushChannel backed by publisher.
func NewPushChannel(publisher PushPublisher) *PushChannel {
	return &PushChannel{publisher: publisher}
}

func (p *PushChannel) Type() types.ChannelType { return types.ChannelPush }

// Send enqueues the envelope for the user's registered push endpoint. Users
// without an endpoint fail without touching the queue.
func (p *PushChannel) Send(ctx context.Context, env core.Envelope) (string, error) {
	if strings.TrimSpace(env.User.PushEndpoint) == "" {
		return "", types.NewAppError(types.ErrCodeRecipientMissing, "user has no push endpoint", nil)
	}
	return p.publisher.Publish(ctx, core.PushMessage{
		MessageID: env.NotificationID,
		UserID:    env.User.ID,
		Endpoint:  env.User.PushEndpoint,
		Title:     env.Title,
		Body:      env.Body,
		Severity:  env.Severity,
		CreatedAt: env.CreatedAt,
	})
}

// ShouldRetry treats a missing endpoint as terminal.
func (p *PushChannel) ShouldRetry(err error) bool {
	return err != nil && !types.IsCode(err, types.ErrCodeRecipientMissing)
}

var (
	_ core.Channel = InAppChannel{}
	_ core.Channel = (*PushChannel)(nil)
)
