package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quantship/tradelife/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL, one row per
// UTC calendar day.
type LedgerStore struct {
	db querier
}

// NewLedgerStore creates a LedgerStore bound to a pool or transaction.
func NewLedgerStore(db querier) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

const ledgerSelectCols = `day, total_trades, winning_trades, losing_trades,
	breakeven_trades, total_r_multiple, consecutive_losses,
	bot_paused, pause_reason, updated_at`

func scanLedger(row pgx.Row) (domain.DailyRiskLedger, error) {
	var l domain.DailyRiskLedger
	err := row.Scan(
		&l.Day, &l.TotalTrades, &l.WinningTrades, &l.LosingTrades,
		&l.BreakevenTrades, &l.TotalR, &l.ConsecutiveLosses,
		&l.BotPaused, &l.PauseReason, &l.UpdatedAt,
	)
	if err != nil {
		return domain.DailyRiskLedger{}, err
	}
	l.Day = l.Day.UTC()
	return l, nil
}

// Get returns the day's ledger, or a zero-valued ledger when no close has
// been recorded yet.
func (s *LedgerStore) Get(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+ledgerSelectCols+` FROM daily_risk_ledgers WHERE day = $1`, day)

	l, err := scanLedger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyRiskLedger{Day: day}, nil
	}
	if err != nil {
		return domain.DailyRiskLedger{}, fmt.Errorf("postgres: get ledger %s: %w", day.Format("2006-01-02"), err)
	}
	return l, nil
}

// GetForUpdate locks the day's row for the rest of the enclosing transaction
// so concurrent closes serialize their increments. The row is created first
// if this is the day's first close.
func (s *LedgerStore) GetForUpdate(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO daily_risk_ledgers (day) VALUES ($1) ON CONFLICT (day) DO NOTHING`, day)
	if err != nil {
		return domain.DailyRiskLedger{}, fmt.Errorf("postgres: ensure ledger %s: %w", day.Format("2006-01-02"), err)
	}

	row := s.db.QueryRow(ctx,
		`SELECT `+ledgerSelectCols+` FROM daily_risk_ledgers WHERE day = $1 FOR UPDATE`, day)

	l, err := scanLedger(row)
	if err != nil {
		return domain.DailyRiskLedger{}, fmt.Errorf("postgres: lock ledger %s: %w", day.Format("2006-01-02"), err)
	}
	return l, nil
}

// Put writes back a ledger previously loaded with GetForUpdate.
func (s *LedgerStore) Put(ctx context.Context, l domain.DailyRiskLedger) error {
	const query = `
		UPDATE daily_risk_ledgers SET
			total_trades       = $2,
			winning_trades     = $3,
			losing_trades      = $4,
			breakeven_trades   = $5,
			total_r_multiple   = $6,
			consecutive_losses = $7,
			bot_paused         = $8,
			pause_reason       = $9,
			updated_at         = NOW()
		WHERE day = $1`

	tag, err := s.db.Exec(ctx, query,
		l.Day, l.TotalTrades, l.WinningTrades, l.LosingTrades,
		l.BreakevenTrades, l.TotalR, l.ConsecutiveLosses,
		l.BotPaused, l.PauseReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: put ledger %s: %w", l.Day.Format("2006-01-02"), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPaused flips the day's pause flag, used by the operator clear-pause path.
func (s *LedgerStore) SetPaused(ctx context.Context, day time.Time, paused bool, reason string) error {
	const query = `
		INSERT INTO daily_risk_ledgers (day, bot_paused, pause_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (day) DO UPDATE SET
			bot_paused   = EXCLUDED.bot_paused,
			pause_reason = EXCLUDED.pause_reason,
			updated_at   = NOW()`

	if _, err := s.db.Exec(ctx, query, day, paused, reason); err != nil {
		return fmt.Errorf("postgres: set pause for %s: %w", day.Format("2006-01-02"), err)
	}
	return nil
}

// ActivePause returns the latest paused ledger row regardless of day, so a
// pause tripped on a previous UTC day is still visible after midnight.
func (s *LedgerStore) ActivePause(ctx context.Context) (domain.DailyRiskLedger, bool, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+ledgerSelectCols+` FROM daily_risk_ledgers
		 WHERE bot_paused ORDER BY day DESC LIMIT 1`)

	l, err := scanLedger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyRiskLedger{}, false, nil
	}
	if err != nil {
		return domain.DailyRiskLedger{}, false, fmt.Errorf("postgres: find active pause: %w", err)
	}
	return l, true, nil
}

// ListRecent returns the latest daily ledgers, newest first.
func (s *LedgerStore) ListRecent(ctx context.Context, limit int) ([]domain.DailyRiskLedger, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ledgerSelectCols+` FROM daily_risk_ledgers
		 ORDER BY day DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []domain.DailyRiskLedger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}
