package app

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends plain text mail, authenticating when a username is set.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPMailer(host, port, username, password, from string) *SMTPMailer {
	host = strings.TrimSpace(host)
	m := &SMTPMailer{
		addr: fmt.Sprintf("%s:%s", host, strings.TrimSpace(port)),
		from: strings.TrimSpace(from),
	}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := buildMessage(m.from, to, subject, body)
	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks into spaces and Q-encodes non-ASCII text so
// a value can never start a new header line.
func headerValue(v string) string {
	return mime.QEncoding.Encode("utf-8", headerBreaks.Replace(v))
}

func buildMessage(from, to, subject, body string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		headerBreaks.Replace(from), headerBreaks.Replace(to), headerValue(subject), body,
	)
}

// LogMailer only logs outgoing mail. Used when no SMTP host is configured.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) Send(to, subject, body string) error {
	m.Log.Info("mail not sent (smtp disabled)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}
