package mailer

import (
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/config"
)

// NewSenders wires one sender per supported provider.
func NewSenders(cfg config.EmailConfig) map[vo.MailProvider]gateway.MailSender {
	return map[vo.MailProvider]gateway.MailSender{
		vo.MailProviderGoogle:    NewGmailSender(cfg.Google),
		vo.MailProviderMicrosoft: NewGraphSender(cfg.Microsoft),
		vo.MailProviderSMTP:      NewSMTPSender(cfg.SMTPTimeout),
	}
}
