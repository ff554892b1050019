// Package email implements the email notification channel. Digests are sent
// as plain text through an external EmailProvider.
package email

import (
	"context"
	"errors"
	"strings"

	"gardennotify/internal/external"
	"gardennotify/internal/notifications/core"
	"gardennotify/internal/types"
)

// EmailChannel implements core.Channel for email delivery.
type EmailChannel struct {
	provider external.EmailProvider
	from     external.EmailAddress
	footer   string
	logger   types.Logger
}

// EmailChannelConfig holds the dependencies needed to create an EmailChannel.
type EmailChannelConfig struct {
	Provider external.EmailProvider
	From     external.EmailAddress
	// Footer is appended to every body after a blank line, e.g. a pointer to
	// the preference page.
	Footer string
	Logger types.Logger
}

// NewEmailChannel creates a new EmailChannel with the given dependencies.
func NewEmailChannel(cfg EmailChannelConfig) *EmailChannel {
	return &EmailChannel{
		provider: cfg.Provider,
		from:     cfg.From,
		footer:   strings.TrimSpace(cfg.Footer),
		logger:   cfg.Logger,
	}
}

// Type returns the channel type identifier for email.
func (e *EmailChannel) Type() types.ChannelType {
	return types.ChannelEmail
}

// Send emails the envelope to the user's address. A missing address fails
// without contacting the provider.
func (e *EmailChannel) Send(ctx context.Context, env core.Envelope) (string, error) {
	if strings.TrimSpace(env.User.Email) == "" {
		return "", types.NewAppError(types.ErrCodeRecipientMissing, "user has no email address", nil)
	}

	body := env.Body
	if e.footer != "" {
		body += "\n\n" + e.footer
	}

	msgID, err := e.provider.Send(ctx, external.EmailMessage{
		To:          env.User.Email,
		From:        e.from,
		Subject:     env.Title,
		Text:        body,
		ReferenceID: env.NotificationID,
	})
	if err != nil {
		if IsBlocklistError(err) {
			e.logger.Warn("recipient blocked by provider",
				"dest", RedactEmail(env.User.Email),
				"notification_id", env.NotificationID,
			)
		}
		return "", err
	}

	e.logger.Info("email sent",
		"dest", RedactEmail(env.User.Email),
		"notification_id", env.NotificationID,
		"provider_message_id", msgID,
	)
	return msgID, nil
}

// ShouldRetry treats blocked and missing recipients as terminal. Everything
// else, provider outages included, is worth another attempt.
func (e *EmailChannel) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if IsBlocklistError(err) || types.IsCode(err, types.ErrCodeRecipientMissing) {
		return false
	}
	return true
}

// ErrRecipientBlocked marks a recipient the provider refuses to mail.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError checks for ErrRecipientBlocked or an AppError carrying
// ErrCodeEmailBlocked.
func IsBlocklistError(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) || types.IsCode(err, types.ErrCodeEmailBlocked)
}

// RedactEmail masks an address for logging: "john@gmail.com" becomes
// "j***@gmail.com". Strings without "@" are masked entirely.
func RedactEmail(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

var _ core.Channel = (*EmailChannel)(nil)
