// Package mailer delivers verification codes and password-reset links.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer sends account emails.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, name, code string, resend bool) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>{{if .Resend}}Your new verification code{{else}}Welcome to TechOrbitCare{{end}}</h2>
  <p>Hi {{.Name}},</p>
  <p>{{if .Resend}}Here is your new verification code.{{else}}Thanks for signing up. Use the code below to verify your email address.{{end}}</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>This code expires in 10 minutes.</p>
  <p>If you did not create an account, you can ignore this email.</p>
</body>
</html>`))

var resetTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Reset your password</h2>
  <p>We received a request to reset the password for your TechOrbitCare account.</p>
  <p><a href="{{.Link}}" style="background: #2563eb; color: #ffffff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Reset password</a></p>
  <p>Or paste this link into your browser:<br>{{.Link}}</p>
  <p>This link expires in 15 minutes. If you did not request a reset, ignore this email.</p>
</body>
</html>`))

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *SMTPMailer) SendVerificationCode(_ context.Context, to, name, code string, resend bool) error {
	subject := "Verify your TechOrbitCare account"
	if resend {
		subject = "Your new TechOrbitCare verification code"
	}
	body, err := render(verificationTmpl, struct {
		Name   string
		Code   string
		Resend bool
	}{name, code, resend})
	if err != nil {
		return err
	}
	return m.send(to, subject, body)
}

func (m *SMTPMailer) SendPasswordReset(_ context.Context, to, link string) error {
	body, err := render(resetTmpl, struct{ Link string }{link})
	if err != nil {
		return err
	}
	return m.send(to, "Reset your TechOrbitCare password", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// LogMailer writes mails to the logger instead of sending them. Used when no
// SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationCode(_ context.Context, to, _, code string, resend bool) error {
	m.logger.Info("verification code",
		zap.String("to", to),
		zap.String("code", code),
		zap.Bool("resend", resend))
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.logger.Info("password reset link", zap.String("to", to), zap.String("link", link))
	return nil
}
