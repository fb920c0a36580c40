package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs fn inside a single transaction. Repositories called with the
// context passed to fn join that transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTx is the pgxpool-backed TxRunner.
type PoolTx struct {
	pool *pgxpool.Pool
}

func NewPoolTx(pool *pgxpool.Pool) *PoolTx {
	return &PoolTx{pool: pool}
}

// WithinTx begins a read-committed transaction, or joins the one already in
// ctx. fn's error rolls back; a nil error commits.
func (p *PoolTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ConnFromContext(ctx) != nil {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(WithConn(ctx, tx))
	})
}

// LockKey takes a transaction-scoped advisory lock on key. It blocks until any
// other transaction holding the same key commits or rolls back.
func LockKey(ctx context.Context, q Querier, namespace string, key uuid.UUID) error {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, namespace+":"+key.String()); err != nil {
		return fmt.Errorf("advisory lock %s: %w", namespace, err)
	}
	return nil
}

// NoTx runs fn directly. In-memory repositories use it in tests.
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
