package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"gopkg.in/gomail.v2"
)

type EmailData struct {
	Subject  string
	To       []string
	CC       []string
	Template string
	Data     interface{}
}

// ReviewEmail is the template data shared by every review notification.
type ReviewEmail struct {
	Recipient     string
	Actor         string
	WorkItemName  string
	WorkItemType  string
	Phase         string
	Status        string
	Reason        string
	Link          string
	PendingFor    string
	WorkspaceName string
	Year          int
}

const emailLayout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .button { display: inline-block; padding: 10px 20px; background-color: #3498db; color: white; text-decoration: none; border-radius: 4px; }
        .reason { border-left: 3px solid #e74c3c; padding-left: 10px; color: #555; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
{{template "body" .}}
    <div class="footer">
        <p>You are receiving this because you review work in {{.WorkspaceName}}.</p>
        <p>© {{.Year}} ProductFlow</p>
    </div>
</body>
</html>`

// Embedded email templates
var emailTemplates = map[string]string{
	"review_requested": `{{define "body"}}
    <div class="header"><h2>Review requested</h2></div>
    <div class="content">
        <p>Hello {{.Recipient}},</p>
        <p>{{.Actor}} asked for a review of the {{.WorkItemType}} <strong>{{.WorkItemName}}</strong> in the <strong>{{.Phase}}</strong> phase.</p>
        <p style="text-align: center;"><a href="{{.Link}}" class="button">Open work item</a></p>
    </div>
{{end}}`,

	"review_decided": `{{define "body"}}
    <div class="header"><h2>Review {{.Status}}</h2></div>
    <div class="content">
        <p>Hello {{.Recipient}},</p>
        <p>{{.Actor}} {{.Status}} the review of <strong>{{.WorkItemName}}</strong>.</p>
        {{if .Reason}}<p class="reason">{{.Reason}}</p>{{end}}
        <p style="text-align: center;"><a href="{{.Link}}" class="button">Open work item</a></p>
    </div>
{{end}}`,

	"review_reminder": `{{define "body"}}
    <div class="header"><h2>Review still pending</h2></div>
    <div class="content">
        <p>Hello {{.Recipient}},</p>
        <p>The review of the {{.WorkItemType}} <strong>{{.WorkItemName}}</strong> ({{.Phase}}) has been waiting for {{.PendingFor}}.</p>
        <p style="text-align: center;"><a href="{{.Link}}" class="button">Review now</a></p>
    </div>
{{end}}`,
}

// Mailer renders the embedded templates and delivers them over SMTP.
type Mailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

// NewMailer returns a mailer; with an empty host it renders but never sends.
func NewMailer(host string, port int, username, password, fromEmail, fromName string) *Mailer {
	m := &Mailer{fromEmail: fromEmail, fromName: fromName}
	if host != "" {
		m.dialer = gomail.NewDialer(host, port, username, password)
	}
	return m
}

// Enabled reports whether an SMTP server is configured.
func (m *Mailer) Enabled() bool {
	return m.dialer != nil
}

// Render builds the message for data without sending it.
func (m *Mailer) Render(data EmailData) (*gomail.Message, error) {
	tmplContent, ok := emailTemplates[data.Template]
	if !ok {
		return nil, fmt.Errorf("template '%s' not found", data.Template)
	}

	tmpl, err := template.New("email").Parse(emailLayout)
	if err != nil {
		return nil, fmt.Errorf("error parsing layout: %w", err)
	}
	if _, err := tmpl.Parse(tmplContent); err != nil {
		return nil, fmt.Errorf("error parsing template: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data.Data); err != nil {
		return nil, fmt.Errorf("error executing template: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetHeader("To", data.To...)
	if len(data.CC) > 0 {
		msg.SetHeader("Cc", data.CC...)
	}
	msg.SetHeader("Subject", data.Subject)
	msg.SetDateHeader("Date", time.Now())
	msg.SetBody("text/html", body.String())
	return msg, nil
}

// Send renders and delivers data. Without SMTP configuration the message is
// rendered, logged and dropped.
func (m *Mailer) Send(data EmailData) error {
	msg, err := m.Render(data)
	if err != nil {
		return err
	}
	if !m.Enabled() {
		LogEvent("email_skipped", map[string]interface{}{
			"template": data.Template,
			"to":       data.To,
		})
		return nil
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}
