package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantship/tradelife/internal/domain"
)

// querier is the query surface shared by *pgxpool.Pool and pgx.Tx, letting
// the same store code run against the pool or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// TxRunner implements domain.TxRunner on a pgx connection pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

var _ domain.TxRunner = (*TxRunner)(nil)

// WithinTx runs fn against transactional store views. fn returning an error
// rolls everything back; otherwise the transaction commits.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx domain.TxStores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(txStores{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// txStores hands out store views bound to one transaction.
type txStores struct {
	db querier
}

var _ domain.TxStores = txStores{}

func (s txStores) Positions() domain.PositionStore { return NewPositionStore(s.db) }
func (s txStores) Events() domain.EventStore       { return NewEventStore(s.db) }
func (s txStores) Ledgers() domain.LedgerStore     { return NewLedgerStore(s.db) }
