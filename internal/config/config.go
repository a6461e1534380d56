// Package config defines the global configuration for the marketfront
// billing-event orchestrator. Configuration is loaded once at process start
// and is immutable thereafter, following 12-Factor principles: values come
// from the OS environment, with an optional .env file for local development.
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"marketfront/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for sensitive configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"marketfront-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	AWS           AWSConfig
	Promo         PromoConfig
	Webhook       WebhookConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// BillingConfig holds Stripe integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region            string `envconfig:"AWS_REGION" default:"us-east-1"`
	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`

	// LocalStack support; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PromoConfig holds the promotional-slot admission limits. The banner family
// uses a fixed platform constant; the promotion family limit is tunable.
type PromoConfig struct {
	PromotionMaxActive int           `envconfig:"PROMO_MAX_ACTIVE" default:"10" validate:"min=1"`
	DrainInterval      time.Duration `envconfig:"PROMO_DRAIN_INTERVAL" default:"1m"`
}

// WebhookConfig holds inbound event processing settings.
type WebhookConfig struct {
	// ProcessingTimeout bounds a single event's handling so a stuck handler
	// surfaces an error instead of head-of-line blocking the intake path.
	ProcessingTimeout time.Duration `envconfig:"WEBHOOK_PROCESSING_TIMEOUT" default:"5s"`
	MaxBodyBytes      int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"262144"`
}

// SecurityConfig holds credentials for the internal ops endpoints.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Marketfront"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}
