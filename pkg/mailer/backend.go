package mailer

import (
	"fmt"

	"accounts/pkg/config"

	"go.uber.org/zap"
)

// New picks the mailer configured by EMAIL_BACKEND.
func New(cfg *config.Config, log *zap.Logger) (Mailer, error) {
	switch cfg.EmailBackend {
	case config.EmailSMTP:
		return &SMTP{Host: cfg.SMTPHost, Port: cfg.SMTPPort, Username: cfg.SMTPUser, Password: cfg.SMTPPass}, nil
	case config.EmailMemory:
		return &Outbox{}, nil
	case config.EmailConsole, "":
		return NewConsole(log.Named("mail")), nil
	}
	return nil, fmt.Errorf("mailer: unknown backend %q", cfg.EmailBackend)
}
