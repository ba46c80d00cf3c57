// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DevJWTSecret is the development fallback for JWT_SECRET. It is rejected in production.
const DevJWTSecret = "dev-insecure-secret-change"

// Email verification modes.
const (
	VerificationNone      = "none"
	VerificationOptional  = "optional"
	VerificationMandatory = "mandatory"
)

// Mail backends.
const (
	EmailConsole = "console"
	EmailSMTP    = "smtp"
	EmailMemory  = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Addr is the HTTP listen address (e.g. :8081).
	Addr string `mapstructure:"SERVER_ADDR"`
	// Env is the application environment ("development", "production", ...).
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseDSN is a postgres DSN or "sqlite:<path>".
	DatabaseDSN string `mapstructure:"DB_DSN"`
	AutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`

	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PasswordMinLength of 0 only requires a non-empty password.
	PasswordMinLength       int  `mapstructure:"PASSWORD_MIN_LENGTH"`
	OldPasswordFieldEnabled bool `mapstructure:"OLD_PASSWORD_FIELD_ENABLED"`

	// EmailVerification is one of none, optional, mandatory.
	EmailVerification           string `mapstructure:"EMAIL_VERIFICATION"`
	EmailConfirmationExpireDays int    `mapstructure:"EMAIL_CONFIRMATION_EXPIRE_DAYS"`
	PasswordResetTTL            string `mapstructure:"PASSWORD_RESET_TTL"`

	// SiteName and SiteURL appear in outgoing mail. When empty they are derived from the request host.
	SiteName string `mapstructure:"SITE_NAME"`
	SiteURL  string `mapstructure:"SITE_URL"`

	EmailBackend string `mapstructure:"EMAIL_BACKEND"`
	EmailFrom    string `mapstructure:"EMAIL_FROM"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPass     string `mapstructure:"SMTP_PASS"`

	SessionCookieName   string `mapstructure:"SESSION_COOKIE_NAME"`
	SessionTTL          string `mapstructure:"SESSION_TTL"`
	SessionCookieSecure bool   `mapstructure:"SESSION_COOKIE_SECURE"`
	LoginURL            string `mapstructure:"LOGIN_URL"`

	// RedisAddr enables rate limiting of login and reset endpoints when set.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RateLimit     int    `mapstructure:"RATE_LIMIT"`
	RateWindow    string `mapstructure:"RATE_WINDOW"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":8081")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("JWT_SECRET", DevJWTSecret)
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_MIN_LENGTH", 0)
	v.SetDefault("OLD_PASSWORD_FIELD_ENABLED", false)
	v.SetDefault("EMAIL_VERIFICATION", VerificationOptional)
	v.SetDefault("EMAIL_CONFIRMATION_EXPIRE_DAYS", 3)
	v.SetDefault("PASSWORD_RESET_TTL", "72h")
	v.SetDefault("SITE_NAME", "")
	v.SetDefault("SITE_URL", "")
	v.SetDefault("EMAIL_BACKEND", EmailConsole)
	v.SetDefault("EMAIL_FROM", "webmaster@localhost")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SESSION_COOKIE_NAME", "sessionid")
	v.SetDefault("SESSION_TTL", "336h") // 2 weeks
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("LOGIN_URL", "/accounts/login/")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("RATE_LIMIT", 10)
	v.SetDefault("RATE_WINDOW", "1m")
}

// Validate checks cross-field constraints and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: SERVER_ADDR must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.Env == "production" && c.JWTSecret == DevJWTSecret {
		return errors.New("config: JWT_SECRET must be changed when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.PasswordMinLength < 0 {
		return errors.New("config: PASSWORD_MIN_LENGTH must not be negative")
	}
	switch c.EmailVerification {
	case "":
		c.EmailVerification = VerificationOptional
	case VerificationNone, VerificationOptional, VerificationMandatory:
	default:
		return fmt.Errorf("config: EMAIL_VERIFICATION must be none, optional or mandatory, got %q", c.EmailVerification)
	}
	switch c.EmailBackend {
	case "":
		c.EmailBackend = EmailConsole
	case EmailConsole, EmailMemory:
	case EmailSMTP:
		if c.SMTPHost == "" {
			return errors.New("config: SMTP_HOST must be set when EMAIL_BACKEND=smtp")
		}
	default:
		return fmt.Errorf("config: EMAIL_BACKEND must be console, smtp or memory, got %q", c.EmailBackend)
	}
	if c.EmailConfirmationExpireDays <= 0 {
		c.EmailConfirmationExpireDays = 3
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = "sessionid"
	}
	if c.LoginURL == "" {
		c.LoginURL = "/accounts/login/"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	durations := []struct{ key, value string }{
		{"JWT_ACCESS_TTL", c.JWTAccessTTL},
		{"JWT_REFRESH_TTL", c.JWTRefreshTTL},
		{"PASSWORD_RESET_TTL", c.PasswordResetTTL},
		{"SESSION_TTL", c.SessionTTL},
		{"RATE_WINDOW", c.RateWindow},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			return fmt.Errorf("config: %s must be a positive duration such as 15m, got %q", d.key, d.value)
		}
	}
	return nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 720*time.Hour)
}

// SessionLifetime parses SessionTTL. Returns 336h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	return parseDuration(c.SessionTTL, 336*time.Hour)
}

// ResetTTL parses PasswordResetTTL. Returns 72h if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	return parseDuration(c.PasswordResetTTL, 72*time.Hour)
}

// ConfirmationTTL is the lifetime of an email confirmation key.
func (c *Config) ConfirmationTTL() time.Duration {
	return time.Duration(c.EmailConfirmationExpireDays) * 24 * time.Hour
}

// RateLimitWindow parses RateWindow. Returns 1m if unset or invalid.
func (c *Config) RateLimitWindow() time.Duration {
	return parseDuration(c.RateWindow, time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
