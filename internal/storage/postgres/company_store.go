// Package postgres persists company records in Postgres. The companies table doubles as the work queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/company-enricher/internal/company"
)

const defaultTable = "companies"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CompanyStore implements company.Store. Each update is its own autocommitted statement.
type CompanyStore struct {
	pool        dbPool
	table       string
	selectQuery string
	updateQuery string
}

// NewCompanyStore opens a pool for cfg.DSN and verifies it with a ping.
func NewCompanyStore(ctx context.Context, cfg Config) (*CompanyStore, *pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewCompanyStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}

// NewCompanyStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCompanyStoreWithPool(pool dbPool, table string) (*CompanyStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CompanyStore{
		pool:  pool,
		table: table,
		selectQuery: fmt.Sprintf(`SELECT id, COALESCE(name, ''), website
FROM %s
WHERE website IS NOT NULL AND product_name IS NULL AND id >= $1
ORDER BY id
LIMIT $2`, table),
		updateQuery: fmt.Sprintf(`UPDATE %s
SET product_name = $1, product_function = $2, product_location = $3, product_qual = $4, updated_at = $5
WHERE id = $6`, table),
	}, nil
}

// Close releases the underlying pool resources.
func (s *CompanyStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SelectBatch returns up to limit eligible records with id >= cursor, in id order.
func (s *CompanyStore) SelectBatch(ctx context.Context, cursor int64, limit int) ([]company.Record, error) {
	rows, err := s.pool.Query(ctx, s.selectQuery, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("select companies: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (company.Record, error) {
		var r company.Record
		err := row.Scan(&r.ID, &r.Name, &r.Website)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan companies: %w", err)
	}
	return records, nil
}

// UpdateRecord writes the four product columns and updated_at for id.
func (s *CompanyStore) UpdateRecord(ctx context.Context, id int64, product company.Product, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, s.updateQuery,
		product.Name,
		product.Function,
		product.Location,
		product.Qualifications,
		updatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("update company %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update company %d: %w", id, company.ErrNotFound)
	}
	return nil
}
