// Package notify delivers transactional email. Real SMTP delivery is out of
// scope; messages are logged or handed to the background queue.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
	from   string
}

func NewLogMailer(logger *slog.Logger, from string) *LogMailer {
	return &LogMailer{logger: logger, from: from}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email sent",
		"from", m.from,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Templates renders the fixed transactional emails. BaseURL points at the
// frontend that owns the verify/reset/join pages.
type Templates struct {
	BaseURL string
}

func (t Templates) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", t.BaseURL, path, url.QueryEscape(token))
}

func (t Templates) Verification(to, name, token string) Message {
	return Message{
		To:      to,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Hi %s,\n\nConfirm your email address to finish setting up your account:\n%s\n\nThe link expires in 24 hours.",
			name, t.link("/verify-email", token)),
	}
}

func (t Templates) PasswordReset(to, name, token string) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password:\n%s\n\nThe link expires in 1 hour. If you did not ask for this you can ignore this email.",
			name, t.link("/reset-password", token)),
	}
}

func (t Templates) Invite(to, orgName, role, token string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("You have been invited to join %s", orgName),
		Body: fmt.Sprintf("You have been invited to join %s as %s.\n\nAccept the invitation:\n%s\n\nThe invitation expires in 7 days.",
			orgName, role, t.link("/join", token)),
	}
}
