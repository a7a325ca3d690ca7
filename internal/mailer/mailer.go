// Package mailer sends transactional email for the signing workflow.
package mailer

import (
	"context"
	"errors"
)

// ErrAuth reports that the mail server rejected our credentials. Callers
// surface this separately from transient delivery failures so operators see a
// configuration problem rather than a flaky upstream.
var ErrAuth = errors.New("mailer: smtp authentication failed")

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
