package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/biller/pkg/billing"
)

// Storage backend types
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Storage bundles the invoice and customer stores of one backend
type Storage interface {
	Invoices() billing.InvoiceStore
	Customers() billing.CustomerStore

	// Seed inserts customers and invoices, replacing rows with the same id
	Seed(ctx context.Context, customers []billing.Customer, invoices []billing.Invoice) error

	// Health checks
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // Comma-separated list of replica URLs
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMigrate     bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Customer cache config
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int // Entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		PostgresMigrate:  true,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     false,
		CacheTTL:         15 * time.Minute,
		L1CacheSize:      1000,
	}
}

// Validate checks that the selected backend is fully configured
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for storage type %q", c.Type)
		}
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("postgres max conns must be positive")
		}
		if c.PostgresMinConns > c.PostgresMaxConns {
			return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.PostgresMinConns, c.PostgresMaxConns)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}

	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when caching is enabled")
		}
		if c.L1CacheSize <= 0 {
			return fmt.Errorf("L1 cache size must be positive when caching is enabled")
		}
	}
	return nil
}
