package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telehealth/telehealth/internal/platform/auth"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	JWTTTL         time.Duration `mapstructure:"JWT_TTL"`
	JWTRefreshTTL  time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	MediaAppID          string        `mapstructure:"MEDIA_APP_ID"`
	MediaAppCertificate string        `mapstructure:"MEDIA_APP_CERTIFICATE"`
	MediaTokenTTL       time.Duration `mapstructure:"MEDIA_TOKEN_TTL"`

	CancellationWindow    time.Duration `mapstructure:"CANCELLATION_WINDOW"`
	DefaultSessionMinutes int           `mapstructure:"DEFAULT_SESSION_MINUTES"`
	PolicyInitiateRoles   []string      `mapstructure:"POLICY_INITIATE_ROLES"`
	PolicyConfirmRoles    []string      `mapstructure:"POLICY_CONFIRM_ROLES"`
	PolicyCancelRoles     []string      `mapstructure:"POLICY_CANCEL_ROLES"`
	PolicyCompleteRoles   []string      `mapstructure:"POLICY_COMPLETE_ROLES"`

	EventsSink   string   `mapstructure:"EVENTS_SINK"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
	SQSQueueURL  string   `mapstructure:"SQS_QUEUE_URL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	RemindersEnabled bool   `mapstructure:"REMINDERS_ENABLED"`
	ReminderSchedule string `mapstructure:"REMINDER_SCHEDULE"`

	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	PaymentBaseURL     string `mapstructure:"PAYMENT_BASE_URL"`
	PaymentSecretKey   string `mapstructure:"PAYMENT_SECRET_KEY"`
	PaymentWebhookHash string `mapstructure:"PAYMENT_WEBHOOK_HASH"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL", "JWT_REFRESH_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "MEDIA_APP_ID", "MEDIA_APP_CERTIFICATE", "MEDIA_TOKEN_TTL",
	"CANCELLATION_WINDOW", "DEFAULT_SESSION_MINUTES",
	"POLICY_INITIATE_ROLES", "POLICY_CONFIRM_ROLES", "POLICY_CANCEL_ROLES", "POLICY_COMPLETE_ROLES",
	"EVENTS_SINK", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_URL",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
	"REMINDERS_ENABLED", "REMINDER_SCHEDULE", "IDEMPOTENCY_TTL",
	"PAYMENT_BASE_URL", "PAYMENT_SECRET_KEY", "PAYMENT_WEBHOOK_HASH",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "telehealth")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MEDIA_TOKEN_TTL", "1h")
	v.SetDefault("CANCELLATION_WINDOW", "24h")
	v.SetDefault("DEFAULT_SESSION_MINUTES", 30)
	v.SetDefault("POLICY_INITIATE_ROLES", "PATIENT")
	v.SetDefault("POLICY_CONFIRM_ROLES", "DOCTOR,ADMIN,SUPER_ADMIN")
	v.SetDefault("POLICY_CANCEL_ROLES", "PATIENT,ADMIN,SUPER_ADMIN")
	v.SetDefault("POLICY_COMPLETE_ROLES", "PATIENT,DOCTOR,ADMIN,SUPER_ADMIN")
	v.SetDefault("EVENTS_SINK", "log")
	v.SetDefault("KAFKA_TOPIC", "appointments")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("REMINDERS_ENABLED", false)
	v.SetDefault("REMINDER_SCHEDULE", "*/5 * * * *")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("PAYMENT_BASE_URL", "https://api.flutterwave.com/v3")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.PolicyInitiateRoles = splitList(cfg.PolicyInitiateRoles)
	cfg.PolicyConfirmRoles = splitList(cfg.PolicyConfirmRoles)
	cfg.PolicyCancelRoles = splitList(cfg.PolicyCancelRoles)
	cfg.PolicyCompleteRoles = splitList(cfg.PolicyCompleteRoles)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalises list values that may arrive either already split or
// as a single comma-separated string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production, got %d", len(c.JWTSecret))
	}

	for name, d := range map[string]time.Duration{
		"JWT_TTL":             c.JWTTTL,
		"JWT_REFRESH_TTL":     c.JWTRefreshTTL,
		"REQUEST_TIMEOUT":     c.RequestTimeout,
		"MEDIA_TOKEN_TTL":     c.MediaTokenTTL,
		"CANCELLATION_WINDOW": c.CancellationWindow,
		"IDEMPOTENCY_TTL":     c.IdempotencyTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.DefaultSessionMinutes <= 0 {
		return fmt.Errorf("DEFAULT_SESSION_MINUTES must be positive, got %d", c.DefaultSessionMinutes)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	policies := []struct {
		key   string
		roles []string
	}{
		{"POLICY_INITIATE_ROLES", c.PolicyInitiateRoles},
		{"POLICY_CONFIRM_ROLES", c.PolicyConfirmRoles},
		{"POLICY_CANCEL_ROLES", c.PolicyCancelRoles},
		{"POLICY_COMPLETE_ROLES", c.PolicyCompleteRoles},
	}
	for _, p := range policies {
		if len(p.roles) == 0 {
			return fmt.Errorf("%s must list at least one role", p.key)
		}
		for _, r := range p.roles {
			if _, ok := auth.ParseRole(r); !ok {
				return fmt.Errorf("%s: unknown role %q", p.key, r)
			}
		}
	}

	switch c.EventsSink {
	case "", "none", "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_SINK is \"kafka\"")
		}
	case "sqs":
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when EVENTS_SINK is \"sqs\"")
		}
	default:
		return fmt.Errorf("EVENTS_SINK must be \"none\", \"log\", \"kafka\", or \"sqs\", got %q", c.EventsSink)
	}

	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if c.RemindersEnabled && c.ReminderSchedule == "" {
		return fmt.Errorf("REMINDER_SCHEDULE is required when REMINDERS_ENABLED is true")
	}

	return nil
}

// MediaConfigured reports whether video/audio tokens can be minted.
func (c *Config) MediaConfigured() bool {
	return c.MediaAppID != "" && c.MediaAppCertificate != ""
}

// PaymentsConfigured reports whether mobile money charges can be made.
func (c *Config) PaymentsConfigured() bool {
	return c.PaymentBaseURL != "" && c.PaymentSecretKey != ""
}

// SessionDuration returns the default virtual session length.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.DefaultSessionMinutes) * time.Minute
}
