// Package postgres implements the catalog repositories on PostgreSQL via pgx.
//
// Product reads always join the related presentation so that a product and
// its presentation arrive in the same row; there is no follow-up fetch.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-catalog/db"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

const (
	lockIdentitySQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	// advanceIdentitySQL never lowers the sequence: GREATEST includes its
	// current value. %s is the sanitized table identifier.
	advanceIdentitySQL = `SELECT setval(s.seq, GREATEST(
			(SELECT max(id) FROM %s),
			pg_sequence_last_value(s.seq),
			1))
		FROM (SELECT pg_get_serial_sequence($1, 'id')::regclass AS seq) s`
)

// advanceIdentity moves the id sequence of table past every stored id after
// an upsert with a client-chosen id. The transaction-scoped advisory lock
// serialises concurrent syncs on the same table, so each one sees the rows
// committed by the previous one.
func advanceIdentity(ctx context.Context, tx pgx.Tx, table string) error {
	if _, err := tx.Exec(ctx, lockIdentitySQL, "identity:"+table); err != nil {
		return errors.Wrapf(err, "lock %s identity", table)
	}
	sql := fmt.Sprintf(advanceIdentitySQL, pgx.Identifier{table}.Sanitize())
	if _, err := tx.Exec(ctx, sql, table); err != nil {
		return errors.Wrapf(err, "advance %s identity", table)
	}
	return nil
}

// integrityViolationClass is SQLSTATE class 23 (integrity constraint violation).
const integrityViolationClass = "23"

// persistenceError classifies a failed write. Class 23 errors carry the
// violated constraint (or column, for NOT NULL) so callers can tell a
// rejected record from an unreachable store.
func persistenceError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, integrityViolationClass) {
		constraint := pgErr.ConstraintName
		if constraint == "" {
			constraint = pgErr.ColumnName
		}
		if constraint == "" {
			constraint = pgErr.Code
		}
		return &product.PersistenceError{Op: op, Constraint: constraint, Err: err}
	}
	return &product.PersistenceError{Op: op, Err: err}
}

// sortColumns maps public sort fields onto SQL expressions.
type sortColumns struct {
	columns  map[string]string
	fallback product.Sort
	// tieBreak is appended unless already present so that pages are stable
	// when the primary key has duplicate values.
	tieBreak string
}

// orderBy renders an ORDER BY clause. Only whitelisted column expressions
// reach the SQL text.
func (c sortColumns) orderBy(s product.Sort) (string, error) {
	if len(s) == 0 {
		s = c.fallback
	}
	parts := make([]string, 0, len(s)+1)
	hasTieBreak := false
	for _, f := range s {
		col, ok := c.columns[f.Field]
		if !ok {
			return "", &product.QueryError{Field: f.Field}
		}
		if col == c.tieBreak {
			hasTieBreak = true
		}
		dir := " ASC"
		if f.Desc {
			dir = " DESC"
		}
		parts = append(parts, col+dir+" NULLS LAST")
	}
	if !hasTieBreak {
		parts = append(parts, c.tieBreak+" ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}
