package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadVault/internal/pkg/env"
)

// Config holds all runtime settings. Every value can be overridden through
// the environment (or the .env file) without a code change.
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Auth        AuthConfig
	Log         LogConfig
	Webhook     WebhookConfig
	Fulfillment FulfillmentConfig
	Signup      SignupConfig
	Admin       AdminConfig
	Metrics     MetricsConfig
}

type AppConfig struct {
	Host              string
	Port              string
	Env               string
	TrustProxyHeaders bool
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN returns the go-sql-driver/mysql data source name.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// MigrateURL returns the golang-migrate database URL.
func (c DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type CacheConfig struct {
	Host     string
	Port     int
	Password string
}

// Addr returns host:port for the redis client.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type WebhookConfig struct {
	// Secrets holds the current signing secret first, then the previous one
	// while a rotation is in progress.
	Secrets   []string
	Tolerance time.Duration
}

type FulfillmentConfig struct {
	Lookback   time.Duration
	LedgerPage int
	MirrorScan int
	LockTTL    time.Duration
	MaxRequest int
	RateLimit  int
	RateWindow time.Duration
}

type SignupConfig struct {
	FreeLeads    int
	IPWindow     time.Duration
	IPHashSalt   string
	BackfillPage int
	RateLimit    int
	RateWindow   time.Duration
}

type AdminConfig struct {
	Secret string
}

type MetricsConfig struct {
	User     string
	Password string
}

// Load reads the configuration from env.GetEnv and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Host:              env.GetEnv("APP_HOST", "localhost"),
			Port:              env.GetEnv("APP_PORT", "4000"),
			Env:               env.GetEnv("APP_ENV", "prod"),
			TrustProxyHeaders: env.GetEnvBool("APP_TRUST_PROXY_HEADERS", false),
		},
		Database: LoadDatabase(),
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnvInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: env.GetEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: env.GetEnv("AUTH_JWT_ISSUER", ""),
		},
		Log: LogConfig{
			Level:  env.GetEnv("LOG_LEVEL", "info"),
			Format: env.GetEnv("LOG_FORMAT", "json"),
			Output: env.GetEnv("LOG_OUTPUT", "stdout"),
		},
		Webhook: WebhookConfig{
			Secrets: nonEmpty(
				env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""),
				env.GetEnv("PAYMENT_WEBHOOK_SECRET_PREVIOUS", ""),
			),
			Tolerance: time.Duration(env.GetEnvInt("PAYMENT_WEBHOOK_TOLERANCE_SECONDS", 0)) * time.Second,
		},
		Fulfillment: FulfillmentConfig{
			Lookback:   time.Duration(env.GetEnvInt("FULFILLMENT_LOOKBACK_HOURS", 72)) * time.Hour,
			LedgerPage: env.GetEnvInt("RECONCILE_LEDGER_PAGE", 50),
			MirrorScan: env.GetEnvInt("RECONCILE_MIRROR_SCAN", 200),
			LockTTL:    time.Duration(env.GetEnvInt("FULFILLMENT_LOCK_TTL_SECONDS", 30)) * time.Second,
			MaxRequest: env.GetEnvInt("FULFILLMENT_MAX_LEADS", 1000),
			RateLimit:  env.GetEnvInt("FULFILLMENT_RATE_LIMIT", 20),
			RateWindow: time.Duration(env.GetEnvInt("FULFILLMENT_RATE_WINDOW_SECONDS", 60)) * time.Second,
		},
		Signup: SignupConfig{
			FreeLeads:    env.GetEnvInt("FREE_LEADS_COUNT", 5),
			IPWindow:     time.Duration(env.GetEnvInt("SIGNUP_IP_WINDOW_HOURS", 24)) * time.Hour,
			IPHashSalt:   env.GetEnv("SIGNUP_IP_HASH_SALT", ""),
			BackfillPage: env.GetEnvInt("BACKFILL_PAGE_SIZE", 100),
			RateLimit:    env.GetEnvInt("SIGNUP_RATE_LIMIT", 10),
			RateWindow:   time.Duration(env.GetEnvInt("SIGNUP_RATE_WINDOW_SECONDS", 60)) * time.Second,
		},
		Admin: AdminConfig{
			Secret: env.GetEnv("ADMIN_SECRET", ""),
		},
		Metrics: MetricsConfig{
			User:     env.GetEnv("METRICS_USER", "admin"),
			Password: env.GetEnv("METRICS_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the DB_* settings. Tools that never serve requests
// use it instead of Load.
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{
		User:     env.GetEnv("DB_USER", "leadvault"),
		Password: env.GetEnv("DB_PASSWORD", ""),
		Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:     env.GetEnv("DB_PORT", "3306"),
		Name:     env.GetEnv("DB_NAME", "leadvault"),
	}
}

// Validate rejects settings the allocators cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Fulfillment.LedgerPage < 1 {
		errs = append(errs, errors.New("RECONCILE_LEDGER_PAGE must be positive"))
	}
	if c.Fulfillment.MirrorScan < 0 {
		errs = append(errs, errors.New("RECONCILE_MIRROR_SCAN must not be negative"))
	}
	if c.Fulfillment.Lookback <= 0 {
		errs = append(errs, errors.New("FULFILLMENT_LOOKBACK_HOURS must be positive"))
	}
	if c.Fulfillment.MaxRequest < 1 {
		errs = append(errs, errors.New("FULFILLMENT_MAX_LEADS must be positive"))
	}
	if c.Signup.FreeLeads < 1 {
		errs = append(errs, errors.New("FREE_LEADS_COUNT must be positive"))
	}
	if c.Signup.IPWindow < 0 {
		errs = append(errs, errors.New("SIGNUP_IP_WINDOW_HOURS must not be negative"))
	}
	if c.Signup.BackfillPage < 1 {
		errs = append(errs, errors.New("BACKFILL_PAGE_SIZE must be positive"))
	}
	if !c.IsDev() {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
		}
		if c.Signup.IPHashSalt == "" {
			errs = append(errs, errors.New("SIGNUP_IP_HASH_SALT is required"))
		}
	}
	return errors.Join(errs...)
}

// IsDev reports whether APP_ENV is "dev".
func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
