package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const (
	TxKey contextKey = "db_tx"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithConn returns a context carrying q. Repositories prefer it over their pool.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, TxKey, q)
}

// ConnFromContext retrieves the transaction-scoped connection from context,
// or nil when the caller is not inside a transaction.
func ConnFromContext(ctx context.Context) Querier {
	q, ok := ctx.Value(TxKey).(Querier)
	if !ok {
		return nil
	}
	return q
}
