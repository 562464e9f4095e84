// Package mailer delivers out-of-band artifacts (verification links, MFA
// codes, reset links). Message content and templating are deliberately thin;
// the core only depends on the delivery contract.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	"go.uber.org/zap"
)

// Mailer is the out-of-band delivery channel the auth flows depend on.
type Mailer interface {
	SendVerificationToken(ctx context.Context, email, token string) error
	SendMFACode(ctx context.Context, email, code string) error
	SendPasswordResetToken(ctx context.Context, email, token string) error
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	sender  string
	baseURL string
}

// NewSMTPMailer configures delivery through host:port with plain auth.
// baseURL is the public address embedded in verification and reset links.
func NewSMTPMailer(addr, username, password, sender, baseURL string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{addr: addr, auth: auth, sender: sender, baseURL: baseURL}
}

// SendVerificationToken mails the email-verification link.
func (m *SMTPMailer) SendVerificationToken(ctx context.Context, email, token string) error {
	body := fmt.Sprintf("Click %s/api/auth/verify-email?token=%s to verify your email", m.baseURL, token)
	return m.send(email, "Verify your email", body)
}

// SendMFACode mails the short login code.
func (m *SMTPMailer) SendMFACode(ctx context.Context, email, code string) error {
	return m.send(email, "Your login code", "Your login code is "+code)
}

// SendPasswordResetToken mails the reset link.
func (m *SMTPMailer) SendPasswordResetToken(ctx context.Context, email, token string) error {
	body := fmt.Sprintf("Click %s/reset-password?token=%s to reset your password", m.baseURL, token)
	return m.send(email, "Reset your password", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.sender, to, subject, body)
	return smtp.SendMail(m.addr, m.auth, m.sender, []string{to}, []byte(msg))
}

// LogMailer logs instead of sending; used in development and as a fallback
// when no relay is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendVerificationToken logs the verification token.
func (m *LogMailer) SendVerificationToken(ctx context.Context, email, token string) error {
	m.logger.Info("verification token issued", zap.String("email", email), zap.String("token", token))
	return nil
}

// SendMFACode logs the login code.
func (m *LogMailer) SendMFACode(ctx context.Context, email, code string) error {
	m.logger.Info("mfa code issued", zap.String("email", email))
	return nil
}

// SendPasswordResetToken logs the reset token.
func (m *LogMailer) SendPasswordResetToken(ctx context.Context, email, token string) error {
	m.logger.Info("password reset token issued", zap.String("email", email))
	return nil
}
