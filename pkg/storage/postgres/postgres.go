package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/storage"
)

var tracer = otel.Tracer("biller/storage/postgres")

const (
	invoiceColumns = `id, customer_id, value, currency, status`

	queryInvoiceByID      = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	queryInvoices         = `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY id`
	queryInvoicesByStatus = `SELECT ` + invoiceColumns + ` FROM invoices WHERE status = $1 ORDER BY id`
	queryUpdateStatus     = `UPDATE invoices SET status = $1 WHERE id = $2 RETURNING ` + invoiceColumns
	queryTransitionStatus = `UPDATE invoices SET status = $1 WHERE id = $2 AND status = $3 RETURNING ` + invoiceColumns
	queryCustomerByID     = `SELECT id, currency FROM customers WHERE id = $1`
	queryCustomers        = `SELECT id, currency FROM customers ORDER BY id`
	queryUpsertCustomer   = `INSERT INTO customers (id, currency) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET currency = EXCLUDED.currency`
	queryUpsertInvoice    = `INSERT INTO invoices (id, customer_id, value, currency, status) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO UPDATE SET customer_id = EXCLUDED.customer_id, value = EXCLUDED.value, currency = EXCLUDED.currency, status = EXCLUDED.status`
)

// Store implements storage.Storage on PostgreSQL
type Store struct {
	conn      *ConnectionManager
	redis     *redis.Client
	cache     *CustomerCache
	customers billing.CustomerStore
	logger    logrus.FieldLogger
}

// New creates a store over an existing connection manager
func New(conn *ConnectionManager, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{conn: conn, logger: logger}
	s.customers = customerStore{s}
	return s
}

// Open connects to PostgreSQL (and Redis when caching is enabled), runs
// migrations if configured and returns the ready store
func Open(ctx context.Context, config storage.Config, logger logrus.FieldLogger) (*Store, error) {
	conn, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL:  config.PostgresURL,
		ReplicaURLs: ParseReplicaURLs(config.PostgresReplicaURLs),
		MaxConns:    config.PostgresMaxConns,
		MinConns:    config.PostgresMinConns,
		Timeout:     config.PostgresTimeout,
		MaxLifetime: 1 * time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		return nil, err
	}

	s := New(conn, logger)

	if config.PostgresMigrate {
		if err := s.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if config.CacheEnabled {
		var client *redis.Client
		if config.RedisURL != "" {
			client, err = NewRedisClient(config)
			if err != nil {
				conn.Close()
				return nil, err
			}
		}
		s.EnableCustomerCache(client, config.L1CacheSize, config.CacheTTL)
	}

	return s, nil
}

// EnableCustomerCache puts a two level cache in front of customer lookups.
// client may be nil for an in-process cache only.
func (s *Store) EnableCustomerCache(client *redis.Client, size int, ttl time.Duration) {
	s.redis = client
	s.cache = NewCustomerCache(customerStore{s}, client, size, ttl, s.logger)
	s.customers = s.cache
}

// Invoices implements storage.Storage
func (s *Store) Invoices() billing.InvoiceStore {
	return invoiceStore{s}
}

// Customers implements storage.Storage
func (s *Store) Customers() billing.CustomerStore {
	return s.customers
}

// Seed implements storage.Storage
func (s *Store) Seed(ctx context.Context, customers []billing.Customer, invoices []billing.Invoice) error {
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, c := range customers {
		if _, err := tx.ExecContext(ctx, queryUpsertCustomer, c.ID, string(c.Currency)); err != nil {
			return fmt.Errorf("failed to seed customer %d: %w", c.ID, err)
		}
	}
	for _, inv := range invoices {
		if _, err := tx.ExecContext(ctx, queryUpsertInvoice,
			inv.ID, inv.CustomerID, inv.Amount.Amount, string(inv.Amount.Currency), string(inv.Status),
		); err != nil {
			return fmt.Errorf("failed to seed invoice %d: %w", inv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	if s.cache != nil {
		for _, c := range customers {
			s.cache.Invalidate(ctx, c.ID)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"customers": len(customers),
		"invoices":  len(invoices),
	}).Info("Seeded database")
	return nil
}

// HealthCheck implements storage.Storage
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.conn.HealthCheck(ctx); err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// Close implements storage.Storage
func (s *Store) Close() error {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	return s.conn.Close()
}

// DB returns the primary pool, used for database health checks
func (s *Store) DB() *sql.DB {
	return s.conn.Primary()
}

// Redis returns the cache client, nil when caching without Redis
func (s *Store) Redis() *redis.Client {
	return s.redis
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (billing.Invoice, error) {
	var (
		inv      billing.Invoice
		currency string
		status   string
	)
	if err := row.Scan(&inv.ID, &inv.CustomerID, &inv.Amount.Amount, &currency, &status); err != nil {
		return billing.Invoice{}, err
	}
	inv.Amount.Currency = billing.Currency(currency)
	inv.Status = billing.InvoiceStatus(status)
	return inv, nil
}

func collectInvoices(rows *sql.Rows) ([]billing.Invoice, error) {
	defer rows.Close()

	invoices := make([]billing.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return invoices, nil
}

// invoiceStore reads invoices that feed the billing engine from the primary;
// a lagging replica could report an already charged invoice as PENDING
type invoiceStore struct {
	s *Store
}

func (v invoiceStore) Fetch(ctx context.Context, id int64) (billing.Invoice, error) {
	inv, err := scanInvoice(v.s.conn.Primary().QueryRowContext(ctx, queryInvoiceByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, billing.InvoiceNotFoundError(id)
	}
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("failed to fetch invoice %d: %w", id, err)
	}
	return inv, nil
}

func (v invoiceStore) FetchAll(ctx context.Context) ([]billing.Invoice, error) {
	rows, err := v.s.conn.Replica().QueryContext(ctx, queryInvoices)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return collectInvoices(rows)
}

func (v invoiceStore) FetchAllByStatus(ctx context.Context, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	ctx, span := tracer.Start(ctx, "postgres.FetchAllByStatus",
		trace.WithAttributes(attribute.String("invoice.status", string(status))),
	)
	defer span.End()

	rows, err := v.s.conn.Primary().QueryContext(ctx, queryInvoicesByStatus, string(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to list %s invoices: %w", status, err)
	}
	invoices, err := collectInvoices(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("invoice.count", len(invoices)))
	return invoices, nil
}

func (v invoiceStore) SetStatus(ctx context.Context, id int64, status billing.InvoiceStatus) (billing.Invoice, error) {
	ctx, span := tracer.Start(ctx, "postgres.SetStatus",
		trace.WithAttributes(
			attribute.Int64("invoice.id", id),
			attribute.String("invoice.status", string(status)),
		),
	)
	defer span.End()

	inv, err := scanInvoice(v.s.conn.Primary().QueryRowContext(ctx, queryUpdateStatus, string(status), id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, billing.InvoiceNotFoundError(id)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return billing.Invoice{}, fmt.Errorf("failed to update invoice %d: %w", id, err)
	}
	return inv, nil
}

func (v invoiceStore) Transition(ctx context.Context, id int64, from, to billing.InvoiceStatus) (billing.Invoice, error) {
	ctx, span := tracer.Start(ctx, "postgres.Transition",
		trace.WithAttributes(
			attribute.Int64("invoice.id", id),
			attribute.String("invoice.status_from", string(from)),
			attribute.String("invoice.status", string(to)),
		),
	)
	defer span.End()

	inv, err := scanInvoice(v.s.conn.Primary().QueryRowContext(ctx, queryTransitionStatus, string(to), id, string(from)))
	if errors.Is(err, sql.ErrNoRows) {
		// Either the invoice is gone or another writer moved it first
		current, err := v.Fetch(ctx, id)
		if err != nil {
			return billing.Invoice{}, err
		}
		return billing.Invoice{}, billing.InvalidStateError(current)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return billing.Invoice{}, fmt.Errorf("failed to update invoice %d: %w", id, err)
	}
	return inv, nil
}

type customerStore struct {
	s *Store
}

func (v customerStore) Fetch(ctx context.Context, id int64) (billing.Customer, error) {
	var (
		c        billing.Customer
		currency string
	)
	err := v.s.conn.Replica().QueryRowContext(ctx, queryCustomerByID, id).Scan(&c.ID, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Customer{}, billing.CustomerNotFoundError(id)
	}
	if err != nil {
		return billing.Customer{}, fmt.Errorf("failed to fetch customer %d: %w", id, err)
	}
	c.Currency = billing.Currency(currency)
	return c, nil
}

func (v customerStore) FetchAll(ctx context.Context) ([]billing.Customer, error) {
	rows, err := v.s.conn.Replica().QueryContext(ctx, queryCustomers)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]billing.Customer, 0)
	for rows.Next() {
		var (
			c        billing.Customer
			currency string
		)
		if err := rows.Scan(&c.ID, &currency); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Currency = billing.Currency(currency)
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}
