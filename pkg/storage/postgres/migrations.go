package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id       BIGINT PRIMARY KEY,
		currency VARCHAR(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id          BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers (id),
		value       NUMERIC(1000, 2) NOT NULL,
		currency    VARCHAR(3) NOT NULL,
		status      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices (status)`,
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	s.logger.WithField("statements", len(migrations)).Info("Database schema is up to date")
	return nil
}
