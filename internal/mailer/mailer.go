// Package mailer отправляет читателям напоминания о задолженности по SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"

	"github.com/mmeshcher/bookworm/internal/config"
	"github.com/mmeshcher/bookworm/internal/model"
)

// ReminderSubject тема письма-напоминания.
const ReminderSubject = "Action Required: Outstanding Library Fines"

// ErrNotConfigured возвращается, если не задан адрес SMTP-сервера.
var ErrNotConfigured = errors.New("smtp relay not configured")

// Reminder содержит данные для письма о задолженности.
type Reminder struct {
	To       string
	Name     string
	Total    decimal.Decimal
	Currency string
	Fines    []model.Fine
	FeesURL  string
}

// Amount форматирует сумму с кодом валюты.
func (r Reminder) Amount(d decimal.Decimal) string {
	return d.StringFixed(2) + " " + strings.ToUpper(r.Currency)
}

var textBody = texttemplate.Must(texttemplate.New("text").Parse(`Dear {{.Name}},

Our records show that you have outstanding library fines totalling {{.Amount .Total}}.
{{range .Fines}}
  - {{.BookTitle}}: {{$.Amount .Outstanding}}{{end}}

Please settle your balance at {{.FeesURL}}

Thank you,
Bookworm Library
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Dear {{.Name}},</p>
<p>Our records show that you have outstanding library fines totalling <strong>{{.Amount .Total}}</strong>.</p>
<ul>
{{range .Fines}}<li>{{.BookTitle}}: {{$.Amount .Outstanding}}</li>
{{end}}</ul>
<p><a href="{{.FeesURL}}">Pay your fines online</a></p>
<p>Thank you,<br>Bookworm Library</p>
</body>
</html>
`))

// Mailer отправляет письма через SMTP-релей.
type Mailer struct {
	cfg  config.SMTPConfig
	from string
}

// New создаёт отправителя с параметрами релея и адресом отправителя.
func New(cfg config.SMTPConfig, from string) *Mailer {
	return &Mailer{cfg: cfg, from: from}
}

// NewReminderMessage собирает письмо с текстовой и HTML-версией.
func NewReminderMessage(from string, r Reminder) (*mail.Msg, error) {
	var text, html bytes.Buffer
	if err := textBody.Execute(&text, r); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, r); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(r.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(ReminderSubject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, text.String())
	m.AddAlternativeString(mail.TypeTextHTML, html.String())

	return m, nil
}

// SendReminder собирает и отправляет напоминание. Повторных попыток нет.
func (s *Mailer) SendReminder(ctx context.Context, r Reminder) error {
	if s.cfg.Host == "" {
		return ErrNotConfigured
	}

	msg, err := NewReminderMessage(s.from, r)
	if err != nil {
		return err
	}

	// Без учётных данных допускаем релей без STARTTLS (локальный MTA).
	policy := mail.TLSOpportunistic
	if s.cfg.User != "" {
		policy = mail.TLSMandatory
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send reminder to %s: %w", r.To, err)
	}

	return nil
}
