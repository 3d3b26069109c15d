package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Notifier delivers account lifecycle emails. Implementations are best
// effort: callers log failures and never fail the triggering operation.
type Notifier interface {
	Verify(ctx context.Context, username, email, token string) error
	Welcome(ctx context.Context, username, email string) error
	ForgotPassword(ctx context.Context, username, email, token string) error
}

// SMTPNotifier sends notifications through a plain SMTP relay.
type SMTPNotifier struct {
	addr   string
	from   string
	auth   smtp.Auth
	appURL string
}

// NewSMTPNotifier constructs an SMTPNotifier. Auth is skipped when user is
// empty.
func NewSMTPNotifier(addr, from, user, password, appURL string) *SMTPNotifier {
	n := &SMTPNotifier{addr: addr, from: from, appURL: strings.TrimRight(appURL, "/")}
	if user != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		n.auth = smtp.PlainAuth("", user, password, host)
	}
	return n
}

// Verify sends the email verification link.
func (n *SMTPNotifier) Verify(_ context.Context, username, email, token string) error {
	subject := "Verify your account"
	body := fmt.Sprintf("Hi %s,\r\n\r\nConfirm your email address:\r\n%s/verify?token=%s\r\n", username, n.appURL, token)
	return n.send(email, subject, body)
}

// Welcome sends the post-verification welcome note.
func (n *SMTPNotifier) Welcome(_ context.Context, username, email string) error {
	subject := "Welcome to flock"
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account is verified. Welcome aboard.\r\n", username)
	return n.send(email, subject, body)
}

// ForgotPassword sends the password reset link. The reset token travels only
// through this channel, never back to the requesting caller.
func (n *SMTPNotifier) ForgotPassword(_ context.Context, username, email, token string) error {
	subject := "Reset your password"
	body := fmt.Sprintf("Hi %s,\r\n\r\nReset your password:\r\n%s/reset-password?token=%s\r\n", username, n.appURL, token)
	return n.send(email, subject, body)
}

func (n *SMTPNotifier) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.from, to, subject, body)
	return smtp.SendMail(n.addr, n.auth, n.from, []string{to}, []byte(msg))
}

// LogNotifier records deliveries to the log instead of sending mail. Used
// when no SMTP relay is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Verify logs the verification notification.
func (n *LogNotifier) Verify(_ context.Context, username, email, token string) error {
	n.logger.Info("verification email skipped, smtp unconfigured", "username", username, "email", email, "token", token)
	return nil
}

// Welcome logs the welcome notification.
func (n *LogNotifier) Welcome(_ context.Context, username, email string) error {
	n.logger.Info("welcome email skipped, smtp unconfigured", "username", username, "email", email)
	return nil
}

// ForgotPassword logs the reset notification.
func (n *LogNotifier) ForgotPassword(_ context.Context, username, email, token string) error {
	n.logger.Info("reset email skipped, smtp unconfigured", "username", username, "email", email, "token", token)
	return nil
}
