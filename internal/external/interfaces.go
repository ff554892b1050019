package external

import "context"

// EmailAddress is a mailbox with an optional display name.
type EmailAddress struct {
	Address string
	Name    string
}

// EmailMessage is a fully rendered plain-text email.
type EmailMessage struct {
	To      string
	From    EmailAddress
	Subject string
	Text    string
	// ReferenceID correlates provider events with the notification record.
	ReferenceID string
}

// EmailProvider abstracts the email delivery service.
type EmailProvider interface {
	// Send transmits a rendered email and returns the provider message ID.
	Send(ctx context.Context, msg EmailMessage) (providerMsgID string, err error)
}
