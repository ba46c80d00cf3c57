// Package account implements registration, login, password management and email
// confirmation on top of the users table.
package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"accounts/models"
	"accounts/pkg/config"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials is returned by Authenticate for unknown users, wrong passwords and inactive accounts.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrEmailNotVerified is returned by Authenticate when verification is mandatory and the primary address is unverified.
	ErrEmailNotVerified = errors.New("account: email not verified")
	// ErrNotFound is returned for unknown users and unknown, used or expired confirmation keys.
	ErrNotFound = errors.New("account: not found")
)

// Field error messages shown to API and HTML clients.
const (
	msgRequired         = "This field is required."
	msgInvalidEmail     = "Enter a valid email address."
	msgEmailTaken       = "A user is already registered with this e-mail address."
	msgUsernameTaken    = "A user with that username already exists."
	msgInvalidUsername  = "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	msgPasswordMismatch = "The two password fields didn't match."
	msgNewPasswordMatch = "The two password fields didn’t match."
	msgOldPassword      = "Your old password was entered incorrectly. Please enter it again."
	msgInvalidValue     = "Invalid value"
)

// NonFieldErrors is the key of errors not tied to one input field.
const NonFieldErrors = "non_field_errors"

// ValidationError carries per-field messages. It renders as the body of a 400 response.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) has(field string) bool {
	return len(e.Fields[field]) > 0
}

// orNil returns e as an error, or nil when no field failed.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) error {
	v := &ValidationError{}
	v.add(field, msg)
	return v
}

// Site names the deployment in outgoing mail and builds absolute links.
type Site struct {
	Name    string
	Domain  string
	BaseURL string // scheme://host, no trailing slash
}

// URL joins path onto the site base URL.
func (s Site) URL(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + path
}

// Options tune account behavior.
type Options struct {
	BcryptCost          int
	PasswordMinLength   int
	OldPasswordRequired bool
	// EmailVerification is config.VerificationNone, VerificationOptional or VerificationMandatory.
	EmailVerification string
	ConfirmationTTL   time.Duration
	ResetTTL          time.Duration
	From              string
}

// OptionsFromConfig maps loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BcryptCost:          cfg.BcryptCost,
		PasswordMinLength:   cfg.PasswordMinLength,
		OldPasswordRequired: cfg.OldPasswordFieldEnabled,
		EmailVerification:   cfg.EmailVerification,
		ConfirmationTTL:     cfg.ConfirmationTTL(),
		ResetTTL:            cfg.ResetTTL(),
		From:                cfg.EmailFrom,
	}
}

// Service implements the account flows.
type Service struct {
	db       *gorm.DB
	profiles *profile.Store
	mail     mailer.Mailer
	log      *zap.Logger
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires a Service. Zero options fall back to bcrypt.DefaultCost and three-day keys.
func NewService(db *gorm.DB, profiles *profile.Store, mail mailer.Mailer, log *zap.Logger, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.EmailVerification == "" {
		opts.EmailVerification = config.VerificationOptional
	}
	if opts.ConfirmationTTL <= 0 {
		opts.ConfirmationTTL = 72 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 72 * time.Hour
	}
	if opts.From == "" {
		opts.From = "webmaster@localhost"
	}
	return &Service{
		db:       db,
		profiles: profiles,
		mail:     mail,
		log:      log,
		opts:     opts,
		validate: validator.New(),
		now:      time.Now,
	}
}

// VerificationMandatory reports whether unverified users are refused at login.
func (s *Service) VerificationMandatory() bool {
	return s.opts.EmailVerification == config.VerificationMandatory
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// Users lists all users ordered by id.
func (s *Service) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) validEmail(email string) bool {
	return s.validate.Var(email, "required,email") == nil
}

func (s *Service) send(ctx context.Context, m mailer.Message) bool {
	if m.From == "" {
		m.From = s.opts.From
	}
	if err := s.mail.Send(ctx, m); err != nil {
		s.log.Error("send mail failed", zap.Strings("to", m.To), zap.String("subject", m.Subject), zap.Error(err))
		return false
	}
	return true
}
