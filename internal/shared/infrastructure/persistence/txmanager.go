package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxManager runs a function inside a single transaction. Repositories that
// support the context-carried transaction join it automatically.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PgxTxManager begins a pgx transaction and threads it through the context.
type PgxTxManager struct {
	pool *pgxpool.Pool
}

func NewPgxTxManager(pool *pgxpool.Pool) *PgxTxManager {
	return &PgxTxManager{pool: pool}
}

func (m *PgxTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Join an already-open transaction instead of nesting.
	if _, ok := TxInfoFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := WithTx(ctx, tx, true)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PassthroughTxManager runs the function directly. The SQLite connection is
// limited to a single writer, so sequential statements are already ordered;
// partial failure is tolerated there in exchange for zero infrastructure.
type PassthroughTxManager struct{}

func NewPassthroughTxManager() *PassthroughTxManager {
	return &PassthroughTxManager{}
}

func (m *PassthroughTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
