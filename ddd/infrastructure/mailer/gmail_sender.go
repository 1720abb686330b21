package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/config"
)

// GmailSender sends through the Gmail API as the account owner.
type GmailSender struct {
	oauth    *oauthClient
	endpoint string
}

func NewGmailSender(cfg config.OAuthConfig) *GmailSender {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       []string{gmail.GmailSendScope},
	}
	return newGmailSender(conf, cfg.APIBase)
}

// newGmailSender targets endpoint instead of the public Gmail API when it is set.
func newGmailSender(conf *oauth2.Config, endpoint string) *GmailSender {
	if endpoint != "" {
		endpoint = strings.TrimRight(endpoint, "/") + "/"
	}
	return &GmailSender{oauth: newOAuthClient(conf), endpoint: endpoint}
}

var _ gateway.MailSender = (*GmailSender)(nil)

func (s *GmailSender) Send(ctx context.Context, account *entity.MailAccount, msg gateway.MailMessage) error {
	ts, err := s.oauth.tokenSource(account)
	if err != nil {
		return err
	}
	raw, err := rawMIME(account, msg)
	if err != nil {
		return err
	}

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}
	_, err = svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}
