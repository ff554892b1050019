// Package config defines the process configuration for the notification
// engine. Configuration is loaded once at startup (Lambda cold start or
// scheduler boot) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret references (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"gardennotify/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"gardennotify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Engine        EngineConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the operational HTTP surface settings.
type ServerConfig struct {
	Port        string       `envconfig:"PORT" default:"8080"`
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region    string `envconfig:"AWS_REGION" default:"us-east-1"`
	PushQueue string `envconfig:"SQS_PUSH_QUEUE" validate:"required,url"`
	// PushCompressThreshold is the body size in bytes above which push
	// messages are zstd-compressed.
	PushCompressThreshold int `envconfig:"PUSH_COMPRESS_THRESHOLD" default:"4096" validate:"min=0"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	Enabled        bool         `envconfig:"EMAIL_ENABLED" default:"true"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Enabled true"`
	SendGridURL    string       `envconfig:"SENDGRID_BASE_URL" validate:"omitempty,url"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"garden@gardennotify.app" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Garden Notify"`
	Footer         string       `envconfig:"EMAIL_FOOTER" default:"Manage your notification settings in the app."`
}

// EngineConfig tunes the tick engine and its drivers.
type EngineConfig struct {
	Concurrency      int           `envconfig:"ENGINE_CONCURRENCY" default:"8" validate:"min=1,max=256"`
	UserBatch        int           `envconfig:"ENGINE_USER_BATCH" default:"500" validate:"min=1"`
	ReminderBatch    int           `envconfig:"ENGINE_REMINDER_BATCH" default:"100" validate:"min=1"`
	ClaimLease       time.Duration `envconfig:"ENGINE_CLAIM_LEASE" default:"5m"`
	MaxClaimAttempts int           `envconfig:"ENGINE_MAX_CLAIM_ATTEMPTS" default:"5" validate:"min=1"`
	HeldLease        time.Duration `envconfig:"ENGINE_HELD_LEASE" default:"2m"`
	// TickTimeout bounds one scheduled task run.
	TickTimeout time.Duration `envconfig:"ENGINE_TICK_TIMEOUT" default:"50s"`
	LockTTL     time.Duration `envconfig:"ENGINE_LOCK_TTL" default:"55s"`
	Retention   time.Duration `envconfig:"ENGINE_RETENTION" default:"720h"`

	// Cron specs for the in-process scheduler driver.
	TickSpec    string `envconfig:"ENGINE_TICK_SPEC" default:"@every 1m" validate:"required"`
	FlushSpec   string `envconfig:"ENGINE_FLUSH_SPEC" default:"30 * * * * *" validate:"required"`
	CleanupSpec string `envconfig:"ENGINE_CLEANUP_SPEC" default:"0 15 3 * * *" validate:"required"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"GardenNotify"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a secret reference could not be resolved.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
