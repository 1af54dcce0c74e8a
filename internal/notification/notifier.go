// Package notification delivers alert digests to operators.
package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
)

// EmailNotifier implements the Notifier interface over SMTP. Recipients
// are parsed once at construction; a digest goes to all of them in a
// single message.
type EmailNotifier struct {
	addr       string
	from       string
	recipients []string
	auth       smtp.Auth
}

// NewEmailNotifier creates an EmailNotifier from the SMTP config.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	// PlainAuth refuses to send credentials to an untrusted server.
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &EmailNotifier{
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from:       cfg.From,
		recipients: parseRecipients(cfg.To),
		auth:       auth,
	}
}

// Send mails an HTML digest to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	if len(n.recipients) == 0 {
		return fmt.Errorf("no digest recipients configured")
	}
	msg := buildMessage(n.from, n.recipients, subject, body)
	if err := smtp.SendMail(n.addr, n.auth, n.from, n.recipients, msg); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}
	return nil
}

// parseRecipients splits the comma-separated recipient list, dropping
// empty entries so a trailing comma in the config cannot fail delivery.
func parseRecipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("X-Mailer: FlowSentry\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
