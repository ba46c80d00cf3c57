package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
)

// SMTP delivers mail through an SMTP relay. Port 465 uses implicit TLS, any other port
// goes through smtp.SendMail which upgrades with STARTTLS when the server offers it.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Send delivers m. Context cancellation is honored while dialing.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	if len(m.To) == 0 {
		return errors.New("mailer: message has no recipients")
	}
	addr := net.JoinHostPort(s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if s.Port != "465" {
		return smtp.SendMail(addr, auth, m.From, m.To, m.Bytes())
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: s.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(m.From); err != nil {
		return err
	}
	for _, to := range m.To {
		if err := client.Rcpt(to); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(m.Bytes()); err != nil {
		return err
	}
	return w.Close()
}
