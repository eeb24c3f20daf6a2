// Package config holds the typed service configuration parsed from the
// environment and an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	ienv "github.com/ManuelReschke/Turbopic/internal/pkg/env"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Cache      CacheConfig
	Stripe     StripeConfig
	Shopify    ShopifyConfig
	RateLimit  RateLimitConfig
	Deduction  DeductionConfig
	Jobs       JobConfig
	Generator  GeneratorConfig
	RenewalTTL time.Duration `env:"RENEWAL_REFRESH_INTERVAL" envDefault:"24h"`
}

type AppConfig struct {
	Host         string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port         string `env:"APP_PORT" envDefault:"4000"`
	Env          string `env:"APP_ENV" envDefault:"prod"`
	ServiceToken string `env:"SERVICE_TOKEN"`

	// MetricsUser and MetricsPassword guard /metrics and /monitor when set.
	MetricsUser     string `env:"METRICS_USER"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
	OpenAPIFile     string `env:"OPENAPI_FILE" envDefault:"public/docs/v1/openapi.yml"`
}

type DBConfig struct {
	Host             string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port             string        `env:"DB_PORT" envDefault:"3306"`
	User             string        `env:"DB_USER"`
	Password         string        `env:"DB_PASSWORD"`
	Name             string        `env:"DB_NAME"`
	MaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConcurrencyLimit int64         `env:"DB_CONCURRENCY_LIMIT" envDefault:"10"`
	AutoMigrate      bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type CacheConfig struct {
	Host     string `env:"CACHE_HOST" envDefault:"localhost"`
	Port     int    `env:"CACHE_PORT" envDefault:"6379"`
	Password string `env:"CACHE_PASSWORD"`
	Database int    `env:"CACHE_DB" envDefault:"0"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	ProductID     string `env:"STRIPE_PRODUCT_ID"`
}

type ShopifyConfig struct {
	APISecret string `env:"SHOPIFY_API_SECRET"`
}

type RateLimitConfig struct {
	Max        int           `env:"API_RATE_LIMIT_MAX" envDefault:"120"`
	Expiration time.Duration `env:"API_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

type DeductionConfig struct {
	Strict                   bool    `env:"DEDUCTION_STRICT" envDefault:"false"`
	MaxAttempts              int     `env:"DEDUCTION_MAX_ATTEMPTS" envDefault:"5"`
	FreeProductUnitsPerMonth float64 `env:"FREE_PRODUCT_UNITS_PER_MONTH" envDefault:"3"`
}

type JobConfig struct {
	Workers     int           `env:"JOB_WORKERS" envDefault:"10"`
	MaxAttempts int           `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase time.Duration `env:"JOB_BACKOFF_BASE" envDefault:"60s"`
	BackoffMax  time.Duration `env:"JOB_BACKOFF_MAX" envDefault:"150s"`
}

// GeneratorConfig points at the external generation pipeline. An empty URL
// fails generation jobs permanently.
type GeneratorConfig struct {
	URL     string        `env:"GENERATOR_URL"`
	Token   string        `env:"GENERATOR_TOKEN"`
	Timeout time.Duration `env:"GENERATOR_TIMEOUT" envDefault:"2m"`
}

// Load reads the .env file (if any) and parses the environment into a Config.
func Load() (Config, error) {
	ienv.SetupEnvFile()
	return Parse(ienv.Environment())
}

// Parse builds a Config from an explicit variable set.
func Parse(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DB.ConcurrencyLimit < 1 {
		return Config{}, fmt.Errorf("DB_CONCURRENCY_LIMIT must be positive, got %d", cfg.DB.ConcurrencyLimit)
	}
	if cfg.Deduction.MaxAttempts < 1 {
		cfg.Deduction.MaxAttempts = 1
	}
	if cfg.RateLimit.Max < 1 {
		return Config{}, fmt.Errorf("API_RATE_LIMIT_MAX must be positive, got %d", cfg.RateLimit.Max)
	}
	if cfg.Jobs.Workers < 1 {
		cfg.Jobs.Workers = 1
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.App.Host, c.App.Port)
}

// IsDev reports whether the service runs in development mode.
func (c Config) IsDev() bool {
	return c.App.Env == "dev"
}

// DSN returns the mysql data source name.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}
