package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/biller/pkg/scheduler"
	"github.com/platinummonkey/biller/pkg/storage"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, storage.TypeMemory, cfg.Storage.Type)
	assert.Equal(t, 3, cfg.Billing.Processor.MaxRetries)
	assert.Equal(t, time.Second, cfg.Billing.Processor.RetryBackoff)
	assert.Equal(t, 1, cfg.Billing.Concurrency)
	assert.True(t, cfg.Billing.ScheduleEnabled)
	assert.Equal(t, scheduler.ModeGate, cfg.Billing.Trigger.Mode)
	assert.Equal(t, 1, cfg.Billing.Trigger.BillingDay)
	assert.Equal(t, 0.1, cfg.Providers.Payment.DeclineRate)
	assert.False(t, cfg.Reports.S3Enabled)
	assert.Empty(t, cfg.Reports.Webhooks())
	assert.Equal(t, 60, cfg.Server.RateLimit)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.OTel.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("BILLER_PORT", "8000")
	t.Setenv("BILLER_STORAGE_TYPE", "postgres")
	t.Setenv("BILLER_POSTGRES_URL", "postgres://localhost/biller")
	t.Setenv("BILLER_CACHE_ENABLED", "true")
	t.Setenv("BILLER_CACHE_TTL", "1m")
	t.Setenv("BILLER_MAX_RETRIES", "5")
	t.Setenv("BILLER_RETRY_BACKOFF", "250ms")
	t.Setenv("BILLER_BILLING_CONCURRENCY", "4")
	t.Setenv("BILLER_SCHEDULE_MODE", "cron")
	t.Setenv("BILLER_SCHEDULE_CRON", "0 6 1 * *")
	t.Setenv("BILLER_TIMEZONE", "UTC")
	t.Setenv("BILLER_PAYMENT_DECLINE_RATE", "0.5")
	t.Setenv("BILLER_RATES_FILE", "/tmp/rates.yaml")
	t.Setenv("BILLER_RATES_WATCH", "1")
	t.Setenv("BILLER_LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, storage.TypePostgres, cfg.Storage.Type)
	assert.True(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, 5, cfg.Billing.Processor.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Billing.Processor.RetryBackoff)
	assert.Equal(t, 4, cfg.Billing.Concurrency)
	assert.Equal(t, scheduler.ModeCron, cfg.Billing.Trigger.Mode)
	assert.Equal(t, "0 6 1 * *", cfg.Billing.Trigger.CronSpec)
	assert.Equal(t, 0.5, cfg.Providers.Payment.DeclineRate)
	assert.True(t, cfg.Providers.WatchRates)
	assert.Equal(t, "json", cfg.Observability.LogFormat)

	loc, err := cfg.Billing.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfig_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("BILLER_MAX_RETRIES", "many")
	t.Setenv("BILLER_RETRY_BACKOFF", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Billing.Processor.MaxRetries)
	assert.Equal(t, time.Second, cfg.Billing.Processor.RetryBackoff)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"same ports", map[string]string{"BILLER_PORT": "9090"}, "must be different"},
		{"postgres without url", map[string]string{"BILLER_STORAGE_TYPE": "postgres"}, "postgres URL is required"},
		{"unknown storage", map[string]string{"BILLER_STORAGE_TYPE": "sqlite"}, "unknown storage type"},
		{"zero retries", map[string]string{"BILLER_MAX_RETRIES": "0"}, "max retries must be at least 1"},
		{"zero concurrency", map[string]string{"BILLER_BILLING_CONCURRENCY": "0"}, "concurrency must be at least 1"},
		{"billing day 31", map[string]string{"BILLER_BILLING_DAY": "31"}, "billing day must be between 1 and 28"},
		{"bad mode", map[string]string{"BILLER_SCHEDULE_MODE": "hourly"}, "unknown trigger mode"},
		{"bad timezone", map[string]string{"BILLER_TIMEZONE": "Mars/Olympus"}, "invalid timezone"},
		{"bad decline rate", map[string]string{"BILLER_PAYMENT_DECLINE_RATE": "2"}, "decline rate"},
		{"watch without file", map[string]string{"BILLER_RATES_WATCH": "true"}, "rates file is required"},
		{"s3 key without secret", map[string]string{"BILLER_REPORTS_S3_ENABLED": "true", "BILLER_REPORTS_S3_ACCESS_KEY": "key"}, "secret key"},
		{"bad webhook url", map[string]string{"BILLER_REPORTS_WEBHOOK_URL": "ftp://example.com/hook"}, "http or https"},
		{"negative rate limit", map[string]string{"BILLER_RATE_LIMIT": "-1"}, "rate limit and burst"},
		{"bad log level", map[string]string{"BILLER_LOG_LEVEL": "loud"}, "invalid log level"},
		{"bad log format", map[string]string{"BILLER_LOG_FORMAT": "xml"}, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledScheduleSkipsTriggerChecks(t *testing.T) {
	t.Setenv("BILLER_SCHEDULE_ENABLED", "false")
	t.Setenv("BILLER_BILLING_DAY", "31")

	_, err := LoadConfig()
	assert.NoError(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("BILLER_MAX_RETRIES", "0")
	t.Setenv("BILLER_LOG_LEVEL", "loud")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Contains(t, err.Error(), "invalid log level")
}
