// Package postgres reads customers and vehicles straight from the shop's
// PostgreSQL database.
//
// The voice flow never writes to these tables. [EnsureSchema] exists so tests
// and fresh development databases can create them; production databases are
// owned by the CRUD backend.
//
// Usage:
//
//	src, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer src.Close()
//	snap, err := directory.Load(ctx, src)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var _ directory.Source = (*Source)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS customers (
    id     TEXT PRIMARY KEY,
    name   TEXT NOT NULL,
    email  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS vehicles (
    id           TEXT    PRIMARY KEY,
    customer_id  TEXT    NOT NULL REFERENCES customers (id) ON DELETE CASCADE,
    year         INTEGER NOT NULL DEFAULT 0,
    make         TEXT    NOT NULL DEFAULT '',
    model        TEXT    NOT NULL DEFAULT '',
    mileage      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_vehicles_customer ON vehicles (customer_id);
`

// Source implements [directory.Source] over a [pgxpool.Pool].
// All operations are safe for concurrent use.
type Source struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres directory: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres directory: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres directory: ping: %w", err)
	}
	return &Source{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of pool.
func NewFromPool(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// EnsureSchema creates the customers and vehicles tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres directory: ensure schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable. It is used by the readiness
// probe.
func (s *Source) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Source) Close() {
	s.pool.Close()
}

// Customers implements [directory.Source].
func (s *Source) Customers(ctx context.Context) ([]shop.Customer, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, email\n"+
			"FROM   customers\n"+
			"ORDER  BY name, id")
	if err != nil {
		return nil, fmt.Errorf("postgres directory: customers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shop.Customer, error) {
		var c shop.Customer
		err := row.Scan(&c.ID, &c.Name, &c.Email)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres directory: scan customers: %w", err)
	}
	return out, nil
}

// Vehicles implements [directory.Source].
func (s *Source) Vehicles(ctx context.Context, customerID string) ([]shop.Vehicle, error) {
	q := "SELECT id, customer_id, year, make, model, mileage\n" +
		"FROM   vehicles\n"
	var args []any
	if customerID != "" {
		q += "WHERE  customer_id = $1\n"
		args = append(args, customerID)
	}
	q += "ORDER  BY customer_id, year DESC, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres directory: vehicles: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shop.Vehicle, error) {
		var v shop.Vehicle
		err := row.Scan(&v.ID, &v.CustomerID, &v.Year, &v.Make, &v.Model, &v.Mileage)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres directory: scan vehicles: %w", err)
	}
	return out, nil
}
