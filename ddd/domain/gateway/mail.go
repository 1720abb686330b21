package gateway

import (
	"context"

	"outreach-service/ddd/domain/entity"
)

// MailMessage 待发送的邮件内容
type MailMessage struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
}

// MailSender delivers one message through the account's provider.
type MailSender interface {
	Send(ctx context.Context, account *entity.MailAccount, msg MailMessage) error
}

// ContentComposer renders the personalised email for a row and its video.
type ContentComposer interface {
	Compose(ctx context.Context, account *entity.MailAccount, artifact entity.ArtifactRecord) (MailMessage, error)
}
