package mailer

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/config"
)

const (
	graphAPIBase   = "https://graph.microsoft.com"
	graphSendScope = "https://graph.microsoft.com/Mail.Send"
)

// GraphSender sends through Microsoft Graph sendMail.
type GraphSender struct {
	oauth   *oauthClient
	apiBase string
}

func NewGraphSender(cfg config.OAuthConfig) *GraphSender {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoints.AzureAD(cfg.Tenant),
		Scopes:       []string{graphSendScope, "offline_access"},
	}
	return newGraphSender(conf, cfg.APIBase)
}

func newGraphSender(conf *oauth2.Config, apiBase string) *GraphSender {
	if apiBase == "" {
		apiBase = graphAPIBase
	}
	return &GraphSender{oauth: newOAuthClient(conf), apiBase: strings.TrimRight(apiBase, "/")}
}

var _ gateway.MailSender = (*GraphSender)(nil)

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients []graphAddress `json:"toRecipients"`
}

type graphSendRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func (s *GraphSender) Send(ctx context.Context, account *entity.MailAccount, msg gateway.MailMessage) error {
	var to graphAddress
	to.EmailAddress.Address = msg.To
	to.EmailAddress.Name = msg.ToName

	req := graphSendRequest{SaveToSentItems: true}
	req.Message.Subject = msg.Subject
	req.Message.Body.ContentType = "HTML"
	req.Message.Body.Content = msg.HTMLBody
	req.Message.ToRecipients = []graphAddress{to}

	return s.oauth.postJSON(ctx, account, s.apiBase+"/v1.0/me/sendMail", req)
}
