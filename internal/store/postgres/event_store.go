package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quantship/tradelife/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events are
// insert-only; there is no update path.
type EventStore struct {
	db querier
}

// NewEventStore creates an EventStore bound to a pool or transaction.
func NewEventStore(db querier) *EventStore {
	return &EventStore{db: db}
}

var _ domain.EventStore = (*EventStore)(nil)

const eventSelectCols = `id, signal_id, event_type, symbol, direction, phase,
	price_at_event, pnl_realized, r_multiple, stop_loss, reason, created_at`

func scanEvents(rows pgx.Rows) ([]domain.TradeEvent, error) {
	var events []domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var typ, direction, phase string

		if err := rows.Scan(
			&e.ID, &e.SignalID, &typ, &e.Symbol, &direction, &phase,
			&e.Price, &e.PnL, &e.RMultiple, &e.StopLoss, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Direction = domain.Direction(direction)
		e.Phase = domain.Phase(phase)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Append writes one immutable lifecycle event.
func (s *EventStore) Append(ctx context.Context, e domain.TradeEvent) error {
	const query = `
		INSERT INTO trade_events (
			id, signal_id, event_type, symbol, direction, phase,
			price_at_event, pnl_realized, r_multiple, stop_loss, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.SignalID, string(e.Type), e.Symbol, string(e.Direction), string(e.Phase),
		e.Price, e.PnL, e.RMultiple, e.StopLoss, e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s for %s: %w", e.Type, e.SignalID, err)
	}
	return nil
}

// ListBySignal returns a signal's events in the order they were written.
func (s *EventStore) ListBySignal(ctx context.Context, signalID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events
		WHERE signal_id = $1 ORDER BY created_at ASC, seq ASC`
	args := []any{signalID}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $3"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", signalID, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for %s: %w", signalID, err)
	}
	return events, nil
}

// List returns events across all signals, newest last, with optional time
// filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events`
	args := []any{}
	argIdx := 1
	where := ""

	if opts.Since != nil {
		where = fmt.Sprintf(" WHERE created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE created_at <= $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		}
		args = append(args, *opts.Until)
		argIdx++
	}
	query += where + " ORDER BY created_at ASC, seq ASC"

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
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListBefore returns events older than cutoff, for cold-storage archiving.
func (s *EventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventSelectCols+` FROM trade_events
		 WHERE created_at < $1
		 ORDER BY created_at ASC, seq ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", cutoff, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events before cutoff: %w", err)
	}
	return events, nil
}

// DeleteBefore removes archived events.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM trade_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
