// Package config loads the service configuration from BILLER_ prefixed
// environment variables, with defaults for every setting.
//
// Server:
//
//	BILLER_HOST="0.0.0.0"
//	BILLER_PORT="7000"
//	BILLER_HEALTH_PORT="9090"
//	BILLER_SHUTDOWN_TIMEOUT="30s"
//
// Storage:
//
//	BILLER_STORAGE_TYPE="postgres"  # memory, postgres
//	BILLER_POSTGRES_URL="postgres://localhost/biller?sslmode=disable"
//	BILLER_POSTGRES_REPLICA_URLS="postgres://replica1/biller,postgres://replica2/biller"
//	BILLER_CACHE_ENABLED="true"
//	BILLER_REDIS_URL="localhost:6379"
//	BILLER_CACHE_TTL="15m"
//
// Billing:
//
//	BILLER_MAX_RETRIES="3"
//	BILLER_RETRY_BACKOFF="1s"
//	BILLER_RETRY_JITTER="1s"
//	BILLER_BILLING_CONCURRENCY="1"
//	BILLER_SCHEDULE_MODE="gate"     # gate, cron
//	BILLER_SCHEDULE_PERIOD="24h"
//	BILLER_BILLING_DAY="1"
//	BILLER_SCHEDULE_CRON="0 0 1 * *"
//	BILLER_TIMEZONE="Europe/Copenhagen"
//
// Providers and reports:
//
//	BILLER_PAYMENT_DECLINE_RATE="0.1"
//	BILLER_RATES_FILE="/etc/biller/rates.yaml"
//	BILLER_RATES_WATCH="true"
//	BILLER_REPORTS_S3_ENABLED="true"
//	BILLER_REPORTS_S3_BUCKET="biller-reports"
//	BILLER_REPORTS_DIR="/var/lib/biller/reports"
//
// Observability:
//
//	BILLER_LOG_LEVEL="info"
//	BILLER_LOG_FORMAT="json"
//	BILLER_OTEL_ENABLED="true"
//	BILLER_OTEL_ENDPOINT="otel-collector:4317"
package config
