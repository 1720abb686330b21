package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
)

// SMTPSender delivers through the account's own SMTP server.
type SMTPSender struct {
	timeout time.Duration
}

func NewSMTPSender(timeout time.Duration) *SMTPSender {
	return &SMTPSender{timeout: timeout}
}

var _ gateway.MailSender = (*SMTPSender)(nil)

func (s *SMTPSender) Send(ctx context.Context, account *entity.MailAccount, msg gateway.MailMessage) error {
	if strings.TrimSpace(account.SMTPHost) == "" {
		return fmt.Errorf("account %s has no smtp host", account.AccountID)
	}
	m, err := buildMsg(account, msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(account.SMTPHost, s.clientOptions(account)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send via %s: %w", account.SMTPHost, err)
	}
	return nil
}

func (s *SMTPSender) clientOptions(account *entity.MailAccount) []mail.Option {
	opts := []mail.Option{mail.WithTLSPortPolicy(mail.TLSOpportunistic)}
	if account.SMTPPort > 0 {
		opts = append(opts, mail.WithPort(account.SMTPPort))
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	if account.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(account.SMTPUsername),
			mail.WithPassword(account.SMTPPassword),
		)
	}
	return opts
}
