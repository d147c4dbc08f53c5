// Package mailer sends outbound notification mail for the registration
// flows. Callers treat sends as best effort: failures are logged and never
// fail the surrounding operation.
package mailer

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/CBIIT/nci-user-registration/internal/config"
)

// ErrNoRecipients is returned when Send is called without any recipient.
var ErrNoRecipients = errors.New("no recipients")

// Mailer delivers one HTML message.
type Mailer interface {
	Send(to []string, subject, htmlBody string) error
}

// SMTP delivers mail through a plain SMTP relay. Authentication is used
// only when a username is configured.
type SMTP struct {
	cfg config.Mail
}

// NewSMTP creates an SMTP mailer from the mail settings.
func NewSMTP(cfg config.Mail) *SMTP {
	return &SMTP{cfg: cfg}
}

// Send delivers one HTML message to the given recipients. The configured
// subject prefix is prepended to every subject.
func (s *SMTP) Send(to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	if s.cfg.SubjectPrefix != "" {
		subject = s.cfg.SubjectPrefix + subject
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.DefaultFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	return smtp.SendMail(addr, auth, s.cfg.DefaultFrom, to, []byte(msg.String()))
}
