// Package config loads gatewayd's runtime configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full set of environment-derived settings for the gateway
// daemon. Every field except OwnerAPIKey and AdminAPIKey has a default;
// those two must be set to non-empty values or Load fails. With only them
// set, gatewayd serves everything except the optional audit trail and
// billing sync.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	AppName     string `env:"APP_NAME" envDefault:"tunnelforge"`
	Version     string `env:"VERSION" envDefault:"dev"`

	BindHost string `env:"BIND_HOST" envDefault:"0.0.0.0"`
	APIPort  int    `env:"API_PORT" envDefault:"8080"`
	BaseDomain string `env:"BASE_DOMAIN" envDefault:"tunnelforge.dev"`
	CertCacheDir string `env:"CERT_CACHE_DIR" envDefault:"/var/cache/tunnelforge/certs"`

	OwnerAPIKey string `env:"OWNER_API_KEY,required,notEmpty"`
	AdminAPIKey string `env:"ADMIN_API_KEY,required,notEmpty"`

	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxTunnels        int           `env:"MAX_TUNNELS" envDefault:"100"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	SweeperInterval   time.Duration `env:"SWEEPER_INTERVAL" envDefault:"60s"`
	MaxIdleDuration   time.Duration `env:"MAX_IDLE_DURATION" envDefault:"60s"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile     string `env:"LOG_FILE" envDefault:""`
	LogTimezone string `env:"LOG_TIMEZONE" envDefault:"UTC"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	StripeAPIKey        string `env:"STRIPE_API_KEY" envDefault:""`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" envDefault:""`
}

// Load reads configuration from the process environment, first loading a
// .env file (if present) so local development doesn't need to export
// everything by hand. A missing .env file is not an error.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// BillingEnabled reports whether Stripe usage sync should run.
func (c *Config) BillingEnabled() bool {
	return c.StripeAPIKey != ""
}

// AuditEnabled reports whether the optional Postgres-backed trail should run.
func (c *Config) AuditEnabled() bool {
	return c.DatabaseURL != ""
}
