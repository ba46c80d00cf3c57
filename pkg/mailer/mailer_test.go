package mailer

import (
	"context"
	"strings"
	"testing"

	"accounts/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOutboxRecordsAndResets(t *testing.T) {
	o := &Outbox{}
	ctx := context.Background()
	_ = o.Send(ctx, Message{To: []string{"a@example.com"}, Subject: "one"})
	_ = o.Send(ctx, Message{To: []string{"b@example.com"}, Subject: "two"})
	msgs := o.Messages()
	if len(msgs) != 2 || msgs[1].Subject != "two" {
		t.Fatalf("unexpected outbox: %+v", msgs)
	}
	msgs[0].Subject = "mutated"
	if o.Messages()[0].Subject != "one" {
		t.Fatalf("Messages must return a copy")
	}
	o.Reset()
	if len(o.Messages()) != 0 {
		t.Fatalf("Reset left messages behind")
	}
}

func TestMessageBytes(t *testing.T) {
	m := Message{From: "site@example.com", To: []string{"a@example.com", "b@example.com"}, Subject: "Hi", Body: "line1\nline2"}
	raw := string(m.Bytes())
	for _, want := range []string{"From: site@example.com\r\n", "To: a@example.com, b@example.com\r\n", "Subject: Hi\r\n", "\r\n\r\nline1\r\nline2"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestConsoleLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewConsole(zap.New(core))
	if err := c.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Hello", Body: "body"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	entries := logs.FilterMessage("email").All()
	if len(entries) != 1 || entries[0].ContextMap()["subject"] != "Hello" {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
}

func TestSMTPRequiresRecipients(t *testing.T) {
	s := &SMTP{Host: "localhost", Port: "2525"}
	if err := s.Send(context.Background(), Message{From: "a@example.com"}); err == nil {
		t.Fatalf("expected error for message without recipients")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	log := zap.NewNop()
	cases := map[string]string{
		config.EmailConsole: "*mailer.Console",
		config.EmailMemory:  "*mailer.Outbox",
		config.EmailSMTP:    "*mailer.SMTP",
	}
	for backend, want := range cases {
		m, err := New(&config.Config{EmailBackend: backend, SMTPHost: "mail.example.com", SMTPPort: "587"}, log)
		if err != nil {
			t.Fatalf("New(%s): %v", backend, err)
		}
		if got := typeName(m); got != want {
			t.Fatalf("New(%s) = %s, want %s", backend, got, want)
		}
	}
	if _, err := New(&config.Config{EmailBackend: "pigeon"}, log); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func typeName(m Mailer) string {
	switch m.(type) {
	case *Console:
		return "*mailer.Console"
	case *Outbox:
		return "*mailer.Outbox"
	case *SMTP:
		return "*mailer.SMTP"
	}
	return "unknown"
}
