package notify

import (
	"context"

	"gopkg.in/gomail.v2"
)

// Mail sends messages over SMTP via gomail.
type Mail struct {
	From   string
	dialer *gomail.Dialer
}

// NewMail builds an SMTP sender. Host and credentials come from config;
// the zero port defaults to 587.
func NewMail(host string, port int, username, password, from string) *Mail {
	if port == 0 {
		port = 587
	}
	return &Mail{
		From:   from,
		dialer: gomail.NewDialer(host, port, username, password),
	}
}

func (m *Mail) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return nil
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", m.From)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/plain", msg.Body)

	return m.dialer.DialAndSend(mail)
}
