// Package notify delivers out-of-band notifications (currently email).
package notify

import "context"

// EmailMessage is one email to deliver.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
	HTML    string
}

// EmailSender sends a single email message.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}
