package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"docsign/internal/config"
)

// smtpNotifier delivers mail over SMTP using go-mail. A fresh connection is
// dialed per send; volume here is one message per uploaded document, so
// connection reuse buys nothing.
type smtpNotifier struct {
	client *mail.Client
	from   string
}

// NewSMTP creates an SMTP-backed Notifier from config.
func NewSMTP(cfg config.SMTPConfig) (Notifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	cli, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &smtpNotifier{client: cli, from: cfg.From}, nil
}

// Send delivers a single message. Authentication rejections come back wrapped
// in ErrAuth.
func (s *smtpNotifier) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %s", ErrAuth, err)
		}
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// isAuthError spots SMTP reply code 535 (authentication credentials
// invalid). The code appears in the server response go-mail surfaces, whether
// the failure happens at dial or at send.
func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "535")
}
