// Package db provides the PostgreSQL-backed repositories for the marketfront
// billing-event orchestrator. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for single-statement work) and pgx.Tx (for
// transactional execution), so the same repository code runs inside or outside
// a transaction.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner executes fn inside a single database transaction. The slot
// admission decision and the subscription-create-plus-activation write use
// this to keep their read-then-write cycles atomic.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q DBTX) error) error
}

// Pool wraps *pgxpool.Pool with transaction support. It satisfies both DBTX
// (by embedding) and TxRunner.
type Pool struct {
	*pgxpool.Pool
}

// NewPool wraps an existing pgx pool.
func NewPool(p *pgxpool.Pool) *Pool {
	return &Pool{Pool: p}
}

// InTx runs fn within a transaction, committing on nil and rolling back on
// error or panic.
func (p *Pool) InTx(ctx context.Context, fn func(q DBTX) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// Rollback after commit is a no-op error; ignore it.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
