// Package pgstore implements store.Store on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"aucradar/ingest-service/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pool
// opens a transaction; Begin on a pgx.Tx opens a savepoint.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the pool-backed store.Store.
type Store struct {
	*repo
	pool *pgxpool.Pool
}

// New wraps a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{repo: &repo{q: pool}, pool: pool}
}

// WithTx runs fn inside a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(r store.Repo) error) error {
	return runInTx(ctx, s.pool, fn)
}

type repo struct {
	q querier
}

// Savepoint runs fn in a nested transaction (a SAVEPOINT when r is already
// transactional).
func (r *repo) Savepoint(ctx context.Context, fn func(r store.Repo) error) error {
	return runInTx(ctx, r.q, fn)
}

func runInTx(ctx context.Context, q querier, fn func(r store.Repo) error) (err error) {
	tx, err := q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(&repo{q: tx})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
