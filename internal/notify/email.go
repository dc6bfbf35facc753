package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Email delivers messages via a plain SMTP relay with PLAIN auth — no pack
// repo wraps an SMTP client, so this one adapter uses net/smtp directly.
type Email struct {
	addr     string
	username string
	password string
	host     string
	toUsers  []string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail creates an Email channel against an SMTP server at host:port,
// authenticating as username/password and addressing toUsers.
func NewEmail(host string, port int, username, password string, toUsers []string) *Email {
	return &Email{
		addr:     fmt.Sprintf("%s:%d", host, port),
		username: username,
		password: password,
		host:     host,
		toUsers:  toUsers,
		sendMail: smtp.SendMail,
	}
}

func (e *Email) Send(ctx context.Context, message string) error {
	auth := smtp.PlainAuth("", e.username, e.password, e.host)

	subject := message
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		subject = message[:idx]
	}

	body := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.username, strings.Join(e.toUsers, ";"), subject, message,
	)

	if err := e.sendMail(e.addr, auth, e.username, e.toUsers, []byte(body)); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
