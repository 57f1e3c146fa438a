package db

import (
	"database/sql"
	"errors"
	"fmt"
	"ms-booking/internal/models"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type DB struct {
	Bun *bun.DB
}

// PoolOptions sizes the Postgres connection pool.
type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// Open connects to Postgres through lib/pq and wraps the pool in bun.
func Open(dsn string, opts PoolOptions) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(opts.MaxLifetime)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func notFoundOr(op, entity, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound(op, entity, id)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

// isUniqueViolation matches Postgres (23505) and SQLite unique constraint failures.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
