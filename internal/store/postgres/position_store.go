package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantship/tradelife/internal/domain"
)

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db querier
}

// NewPositionStore creates a PositionStore bound to a pool or transaction.
func NewPositionStore(db querier) *PositionStore {
	return &PositionStore{db: db}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, symbol, direction, entry_price,
	initial_stop_loss, current_stop_loss,
	take_profit_1, take_profit_2, take_profit_3,
	phase, status, error_reason, remaining_pct,
	tp1_closed, tp2_closed, tp1_pnl, tp2_pnl, realized_r,
	max_favorable_excursion, max_adverse_excursion,
	activated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, phase, status string

	err := row.Scan(
		&p.ID, &p.Symbol, &direction, &p.EntryPrice,
		&p.InitialStopLoss, &p.CurrentStopLoss,
		&p.TakeProfit1, &p.TakeProfit2, &p.TakeProfit3,
		&phase, &status, &p.ErrorReason, &p.RemainingPct,
		&p.TP1Closed, &p.TP2Closed, &p.TP1PnL, &p.TP2PnL, &p.RealizedR,
		&p.MaxFavorableExcursion, &p.MaxAdverseExcursion,
		&p.ActivatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Phase = domain.Phase(phase)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a freshly adopted position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, direction, entry_price,
			initial_stop_loss, current_stop_loss,
			take_profit_1, take_profit_2, take_profit_3,
			phase, status, error_reason, remaining_pct,
			tp1_closed, tp2_closed, tp1_pnl, tp2_pnl, realized_r,
			max_favorable_excursion, max_adverse_excursion,
			activated_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20,
			$21, $22, NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Direction), p.EntryPrice,
		p.InitialStopLoss, p.CurrentStopLoss,
		p.TakeProfit1, p.TakeProfit2, p.TakeProfit3,
		string(p.Phase), string(p.Status), p.ErrorReason, p.RemainingPct,
		p.TP1Closed, p.TP2Closed, p.TP1PnL, p.TP2PnL, p.RealizedR,
		p.MaxFavorableExcursion, p.MaxAdverseExcursion,
		p.ActivatedAt, p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position still eligible for evaluation.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND phase <> 'CLOSED'
		 ORDER BY activated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns closed positions with pagination and optional time filtering.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'closed'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// UpdateTransition writes post-transition state. The WHERE clause enforces
// the lifecycle invariants at the row: still open, phase never regresses, and
// the stop only ever tightens. A rejected write surfaces as
// ErrPhaseRegression so the caller can park the position for review.
func (s *PositionStore) UpdateTransition(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_stop_loss       = $2,
			phase                   = $3,
			status                  = $4,
			remaining_pct           = $5,
			tp1_closed              = $6,
			tp2_closed              = $7,
			tp1_pnl                 = $8,
			tp2_pnl                 = $9,
			realized_r              = $10,
			max_favorable_excursion = GREATEST(max_favorable_excursion, $11),
			max_adverse_excursion   = GREATEST(max_adverse_excursion, $12),
			closed_at               = $13,
			updated_at              = NOW()
		WHERE id = $1
		  AND status = 'open'
		  AND phase_rank(phase) <= phase_rank($3)
		  AND remaining_pct >= $5
		  AND CASE WHEN direction = 'BUY'
		        THEN $2 >= current_stop_loss
		        ELSE $2 <= current_stop_loss
		      END`

	tag, err := s.db.Exec(ctx, query,
		p.ID, p.CurrentStopLoss, string(p.Phase), string(p.Status), p.RemainingPct,
		p.TP1Closed, p.TP2Closed, p.TP1PnL, p.TP2PnL, p.RealizedR,
		p.MaxFavorableExcursion, p.MaxAdverseExcursion,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRejectedUpdate(ctx, p.ID)
	}
	return nil
}

// explainRejectedUpdate distinguishes a missing row from a closed position
// from a guard violation.
func (s *PositionStore) explainRejectedUpdate(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: inspect position %s: %w", id, err)
	}
	if domain.PositionStatus(status) != domain.PositionStatusOpen {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrPositionClosed)
	}
	return fmt.Errorf("postgres: position %s: %w", id, domain.ErrPhaseRegression)
}

// UpdateExcursions persists MFE/MAE drift without touching lifecycle fields.
func (s *PositionStore) UpdateExcursions(ctx context.Context, id string, mfe, mae float64) error {
	const query = `
		UPDATE positions SET
			max_favorable_excursion = GREATEST(max_favorable_excursion, $2),
			max_adverse_excursion   = GREATEST(max_adverse_excursion, $3),
			updated_at              = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, mfe, mae)
	if err != nil {
		return fmt.Errorf("postgres: update excursions for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkError parks a position in the terminal error status.
func (s *PositionStore) MarkError(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE positions SET
			status       = 'error',
			error_reason = $2,
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s error: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClosedBefore returns closed positions whose close predates cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", cutoff, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions before cutoff: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore removes archived closed positions.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM positions WHERE status = 'closed' AND closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
