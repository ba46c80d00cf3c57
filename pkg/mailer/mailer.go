// Package mailer delivers plain-text account mail over SMTP, to the log, or to an in-memory outbox.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Message is one outgoing mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Bytes renders m as an RFC 5322 message.
func (m Message) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Outbox keeps sent messages in memory. Used in tests and with EMAIL_BACKEND=memory.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

// Send records m.
func (o *Outbox) Send(_ context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.sent))
	copy(out, o.sent)
	return out
}

// Reset empties the outbox.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
}

// Console writes messages to the logger instead of delivering them.
type Console struct {
	log *zap.Logger
}

// NewConsole returns a Console mailer logging through log.
func NewConsole(log *zap.Logger) *Console {
	return &Console{log: log}
}

// Send logs m at info level.
func (c *Console) Send(_ context.Context, m Message) error {
	c.log.Info("email",
		zap.String("from", m.From),
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}
