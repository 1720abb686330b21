package mailer

import (
	"bytes"
	"fmt"

	"github.com/wneessen/go-mail"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
)

// buildMsg turns a composed message into a go-mail message sent from account.
func buildMsg(account *entity.MailAccount, msg gateway.MailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(account.DisplayName, account.Email); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", account.Email, err)
	}
	if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}

// rawMIME renders the full RFC 5322 message.
func rawMIME(account *entity.MailAccount, msg gateway.MailMessage) ([]byte, error) {
	m, err := buildMsg(account, msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render mime: %w", err)
	}
	return buf.Bytes(), nil
}
