package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/external"
	"github.com/platinummonkey/biller/pkg/observability"
	"github.com/platinummonkey/biller/pkg/reports"
	"github.com/platinummonkey/biller/pkg/scheduler"
	"github.com/platinummonkey/biller/pkg/storage"
	"github.com/platinummonkey/biller/pkg/webhooks"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "BILLER_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Billing       BillingConfig
	Providers     ProvidersConfig
	Reports       ReportsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RateLimit caps billing actions per client IP per minute, 0 disables
	RateLimit      int
	RateLimitBurst int
}

// BillingConfig holds the engine and trigger settings
type BillingConfig struct {
	Processor billing.ProcessorConfig
	// Concurrency > 1 processes invoices of a run in parallel
	Concurrency int
	// ScheduleEnabled arms the recurring trigger
	ScheduleEnabled bool
	Trigger         scheduler.TriggerConfig
	Timezone        string
}

// Location resolves the billing timezone
func (c BillingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ProvidersConfig configures the simulated external services
type ProvidersConfig struct {
	Payment external.PaymentConfig
	// ConversionErrorRate is the probability a currency conversion fails with a network error
	ConversionErrorRate float64
	RatesFile           string
	WatchRates          bool
}

// ReportsConfig selects where billing run reports are archived
type ReportsConfig struct {
	S3Enabled bool
	S3        reports.S3Config
	// Dir archives reports on local disk when set
	Dir string
	// Webhook receives run reports when WebhookURL is set
	WebhookURL    string
	WebhookSecret string
}

// Webhooks returns the configured report webhooks
func (c ReportsConfig) Webhooks() []webhooks.Webhook {
	if c.WebhookURL == "" {
		return nil
	}
	return []webhooks.Webhook{{URL: c.WebhookURL, Secret: c.WebhookSecret}}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	OTel           observability.OTelConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Providers:     loadProvidersConfig(),
		Reports:       loadReportsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "7000"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
		RateLimit:       getEnvInt("RATE_LIMIT", 60),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 10),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("STORAGE_TYPE", cfg.Type)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	cfg.PostgresMaxConns = getEnvInt("POSTGRES_MAX_CONNS", cfg.PostgresMaxConns)
	cfg.PostgresMinConns = getEnvInt("POSTGRES_MIN_CONNS", cfg.PostgresMinConns)
	cfg.PostgresTimeout = getEnvDuration("POSTGRES_TIMEOUT", cfg.PostgresTimeout)
	cfg.PostgresMigrate = getEnvBool("POSTGRES_MIGRATE", cfg.PostgresMigrate)

	// Redis config
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.RedisMaxRetries = getEnvInt("REDIS_MAX_RETRIES", cfg.RedisMaxRetries)
	cfg.RedisPoolSize = getEnvInt("REDIS_POOL_SIZE", cfg.RedisPoolSize)

	// Cache config
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.L1CacheSize = getEnvInt("L1_CACHE_SIZE", cfg.L1CacheSize)

	return cfg
}

func loadBillingConfig() BillingConfig {
	processor := billing.DefaultProcessorConfig()
	trigger := scheduler.DefaultTriggerConfig()

	return BillingConfig{
		Processor: billing.ProcessorConfig{
			MaxRetries:   getEnvInt("MAX_RETRIES", processor.MaxRetries),
			RetryBackoff: getEnvDuration("RETRY_BACKOFF", processor.RetryBackoff),
			RetryJitter:  getEnvDuration("RETRY_JITTER", processor.RetryJitter),
		},
		Concurrency:     getEnvInt("BILLING_CONCURRENCY", 1),
		ScheduleEnabled: getEnvBool("SCHEDULE_ENABLED", true),
		Trigger: scheduler.TriggerConfig{
			Mode:       getEnv("SCHEDULE_MODE", trigger.Mode),
			CronSpec:   getEnv("SCHEDULE_CRON", trigger.CronSpec),
			Period:     getEnvDuration("SCHEDULE_PERIOD", trigger.Period),
			BillingDay: getEnvInt("BILLING_DAY", trigger.BillingDay),
		},
		Timezone: getEnv("TIMEZONE", ""),
	}
}

func loadProvidersConfig() ProvidersConfig {
	payment := external.DefaultPaymentConfig()

	return ProvidersConfig{
		Payment: external.PaymentConfig{
			DeclineRate:      getEnvFloat("PAYMENT_DECLINE_RATE", payment.DeclineRate),
			NetworkErrorRate: getEnvFloat("PAYMENT_NETWORK_ERROR_RATE", payment.NetworkErrorRate),
			Latency:          getEnvDuration("PAYMENT_LATENCY", payment.Latency),
		},
		ConversionErrorRate: getEnvFloat("CONVERSION_NETWORK_ERROR_RATE", 0),
		RatesFile:           getEnv("RATES_FILE", ""),
		WatchRates:          getEnvBool("RATES_WATCH", false),
	}
}

func loadReportsConfig() ReportsConfig {
	return ReportsConfig{
		S3Enabled: getEnvBool("REPORTS_S3_ENABLED", false),
		S3: reports.S3Config{
			Bucket:       getEnv("REPORTS_S3_BUCKET", "biller-reports"),
			Region:       getEnv("REPORTS_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("REPORTS_S3_ENDPOINT", ""),
			AccessKey:    getEnv("REPORTS_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("REPORTS_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("REPORTS_S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("REPORTS_S3_PREFIX", "billing"),
		},
		Dir:           getEnv("REPORTS_DIR", ""),
		WebhookURL:    getEnv("REPORTS_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("REPORTS_WEBHOOK_SECRET", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", observability.FormatText),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		OTel: observability.OTelConfig{
			Enabled:        getEnvBool("OTEL_ENABLED", false),
			Endpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "biller"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Insecure:       getEnvBool("OTEL_INSECURE", true),
			SampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, fmt.Errorf("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, fmt.Errorf("server port and health port must be different"))
	}

	if c.Server.RateLimit < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("rate limit and burst must not be negative"))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if c.Billing.Processor.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.Billing.Processor.MaxRetries))
	}
	if c.Billing.Processor.RetryBackoff < 0 || c.Billing.Processor.RetryJitter < 0 {
		errs = append(errs, fmt.Errorf("retry backoff and jitter must not be negative"))
	}
	if c.Billing.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("billing concurrency must be at least 1, got %d", c.Billing.Concurrency))
	}
	if c.Billing.ScheduleEnabled {
		if err := c.Billing.Trigger.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	if _, err := c.Billing.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Billing.Timezone, err))
	}

	if err := c.Providers.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("payment provider: %w", err))
	}
	if c.Providers.ConversionErrorRate < 0 || c.Providers.ConversionErrorRate > 1 {
		errs = append(errs, fmt.Errorf("conversion network error rate must be within [0,1]"))
	}
	if c.Providers.WatchRates && c.Providers.RatesFile == "" {
		errs = append(errs, fmt.Errorf("rates file is required to watch rates"))
	}

	if c.Reports.S3Enabled {
		if err := c.Reports.S3.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reports: %w", err))
		}
	}
	for _, w := range c.Reports.Webhooks() {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reports: %w", err))
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case observability.FormatText, observability.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Observability.LogFormat))
	}
	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTel.ServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
