package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/config"
)

const defaultSubject = `A short video for {{if .Company}}{{.Company}}{{else}}{{.Name}}{{end}}`

const defaultBody = `<html>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9;">
  <div style="max-width: 600px; margin: auto; padding: 20px; background-color: #fff; text-align: center;">
    <h2>Hi {{.Name}},</h2>
    <p>I recorded a quick walkthrough of {{.Website}}{{if .Title}} for you as {{.Title}}{{end}}. Take a look:</p>
    <a href="{{.VideoURL}}" style="display: inline-block; background-color: #4CAF50; color: #fff; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Watch the video</a>
    <p>{{.SenderName}}</p>
  </div>
</body>
</html>`

// TemplateData is what subject and body templates can reference.
type TemplateData struct {
	Name        string
	Email       string
	Company     string
	Title       string
	Website     string
	VideoURL    string
	SenderName  string
	SenderEmail string
}

// TemplateComposer renders the subject as text and the body as escaped HTML.
type TemplateComposer struct {
	subject    *texttemplate.Template
	body       *htmltemplate.Template
	senderName string
}

func NewTemplateComposer(cfg config.EmailConfig) (*TemplateComposer, error) {
	subjectSrc := cfg.SubjectTemplate
	if strings.TrimSpace(subjectSrc) == "" {
		subjectSrc = defaultSubject
	}
	bodySrc := cfg.BodyTemplate
	if strings.TrimSpace(bodySrc) == "" {
		bodySrc = defaultBody
	}
	subject, err := texttemplate.New("subject").Parse(subjectSrc)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := htmltemplate.New("body").Parse(bodySrc)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &TemplateComposer{subject: subject, body: body, senderName: cfg.SenderName}, nil
}

var _ gateway.ContentComposer = (*TemplateComposer)(nil)

func (c *TemplateComposer) Compose(_ context.Context, account *entity.MailAccount, artifact entity.ArtifactRecord) (gateway.MailMessage, error) {
	data := TemplateData{
		Name:     artifact.Row.RecipientName,
		Email:    artifact.Row.RecipientEmail,
		Company:  artifact.Row.RecipientCompany,
		Title:    artifact.Row.RecipientTitle,
		Website:  artifact.Row.TargetURL,
		VideoURL: artifact.RemoteURL,
	}
	data.SenderName = c.senderName
	if account != nil {
		data.SenderEmail = account.Email
		if account.DisplayName != "" {
			data.SenderName = account.DisplayName
		}
	}

	var subject, body bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return gateway.MailMessage{}, fmt.Errorf("render subject: %w", err)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return gateway.MailMessage{}, fmt.Errorf("render body: %w", err)
	}
	return gateway.MailMessage{
		To:       data.Email,
		ToName:   data.Name,
		Subject:  strings.TrimSpace(subject.String()),
		HTMLBody: body.String(),
	}, nil
}
