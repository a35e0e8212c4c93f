// Package postgres implements store.Store on a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds the read paths shared by the pool and a transaction.
type queries struct{ db dbtx }

type Store struct {
	queries
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, Pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{queries: queries{db: tx}}); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

type pgTx struct {
	queries
}

var _ store.Tx = (*pgTx)(nil)

// Savepoint runs fn inside a pgx nested transaction (SAVEPOINT). Rolling it
// back keeps the outer transaction usable after a failed statement.
func (t *pgTx) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	outer, ok := t.db.(pgx.Tx)
	if !ok {
		return fmt.Errorf("savepoint outside transaction")
	}
	sp, err := outer.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(&pgTx{queries: queries{db: sp}}); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return mapErr(sp.Commit(ctx))
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case "42P01":
			return fmt.Errorf("%w: %s", store.ErrUnavailable, pgErr.Message)
		case "42703":
			return fmt.Errorf("%w: %s", store.ErrUnsupported, pgErr.Message)
		case "25P02":
			return fmt.Errorf("%w: %s", store.ErrTxAborted, pgErr.Message)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// collect drains rows through scan, closing them on every path.
func collect[T any](rows pgx.Rows, err error, scan func(pgx.Rows) (T, error)) ([]T, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}

func exec(ctx context.Context, db dbtx, sql string, args ...any) error {
	ct, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
