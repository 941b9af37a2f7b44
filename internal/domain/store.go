package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
	// UpdateTransition writes the post-transition state. The update is
	// guarded: it refuses phase rollbacks and stop-loss loosening and
	// returns ErrPhaseRegression when a guard rejects the write.
	UpdateTransition(ctx context.Context, pos Position) error
	// UpdateExcursions persists MFE/MAE drift for ticks that produce no
	// transition.
	UpdateExcursions(ctx context.Context, id string, mfe, mae float64) error
	MarkError(ctx context.Context, id string, reason string) error
	// ListClosedBefore returns closed positions older than cutoff, for
	// cold-storage archiving.
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore persists the append-only trade event feed.
type EventStore interface {
	Append(ctx context.Context, evt TradeEvent) error
	ListBySignal(ctx context.Context, signalID string, opts ListOpts) ([]TradeEvent, error)
	List(ctx context.Context, opts ListOpts) ([]TradeEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerStore persists daily risk ledgers keyed by UTC day.
type LedgerStore interface {
	// Get returns the ledger for day, or a zero-valued ledger for that day
	// when no row exists yet.
	Get(ctx context.Context, day time.Time) (DailyRiskLedger, error)
	// GetForUpdate locks the day's row for the duration of the enclosing
	// transaction, creating it first if absent.
	GetForUpdate(ctx context.Context, day time.Time) (DailyRiskLedger, error)
	Put(ctx context.Context, ledger DailyRiskLedger) error
	SetPaused(ctx context.Context, day time.Time, paused bool, reason string) error
	// ActivePause returns the most recent ledger row whose pause flag is
	// still set, regardless of day. A pause tripped before a day rollover
	// stays in force until an operator clears it.
	ActivePause(ctx context.Context) (DailyRiskLedger, bool, error)
	ListRecent(ctx context.Context, limit int) ([]DailyRiskLedger, error)
}

// TxStores is the transactional view of the stores. Everything done through
// one TxStores commits or rolls back as a unit.
type TxStores interface {
	Positions() PositionStore
	Events() EventStore
	Ledgers() LedgerStore
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx TxStores) error) error
}
