// Package service holds the engine's application services: signal adoption
// and risk surfaces for the HTTP layer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantship/tradelife/internal/domain"
)

// CreateSignalInput is the inbound creation contract supplied by the
// signal-issuing component.
type CreateSignalInput struct {
	Symbol      string           `json:"symbol"`
	Direction   domain.Direction `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	StopLoss    float64          `json:"stop_loss"`
	TakeProfit1 float64          `json:"take_profit_1"`
	TakeProfit2 float64          `json:"take_profit_2"`
	TakeProfit3 float64          `json:"take_profit_3"`
}

// SignalService adopts new signals into the lifecycle and serves position
// reads for dashboards.
type SignalService struct {
	tx        domain.TxRunner
	positions domain.PositionStore
	events    domain.EventStore
	ledgers   domain.LedgerStore
	bus       domain.EventBus
	logger    *slog.Logger
}

func NewSignalService(tx domain.TxRunner, positions domain.PositionStore, events domain.EventStore,
	ledgers domain.LedgerStore, bus domain.EventBus, logger *slog.Logger) *SignalService {
	return &SignalService{
		tx:        tx,
		positions: positions,
		events:    events,
		ledgers:   ledgers,
		bus:       bus,
		logger:    logger.With(slog.String("component", "signal_service")),
	}
}

// Create validates and adopts a signal. The position and its ACTIVATED event
// commit together. Returns ErrPaused while the circuit breaker is tripped,
// no matter which day tripped it, and ErrInvalidPosition for malformed
// inputs; neither enters the state machine.
func (s *SignalService) Create(ctx context.Context, in CreateSignalInput) (domain.Position, error) {
	now := time.Now().UTC()

	pause, paused, err := s.ledgers.ActivePause(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: check pause: %w", err)
	}
	if paused {
		return domain.Position{}, fmt.Errorf("service: %s: %w", pause.PauseReason, domain.ErrPaused)
	}

	pos := domain.Position{
		ID:              uuid.NewString(),
		Symbol:          in.Symbol,
		Direction:       in.Direction,
		EntryPrice:      in.EntryPrice,
		InitialStopLoss: in.StopLoss,
		CurrentStopLoss: in.StopLoss,
		TakeProfit1:     in.TakeProfit1,
		TakeProfit2:     in.TakeProfit2,
		TakeProfit3:     in.TakeProfit3,
		Phase:           domain.PhaseActive,
		Status:          domain.PositionStatusOpen,
		RemainingPct:    100,
		ActivatedAt:     now,
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("service: reject signal for %s: %w", in.Symbol, err)
	}

	evt := domain.TradeEvent{
		ID:        uuid.NewString(),
		SignalID:  pos.ID,
		Type:      domain.EventActivated,
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Phase:     pos.Phase,
		Price:     pos.EntryPrice,
		CreatedAt: now,
	}

	err = s.tx.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Positions().Create(ctx, pos); err != nil {
			return err
		}
		return tx.Events().Append(ctx, evt)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: adopt signal for %s: %w", in.Symbol, err)
	}

	s.publish(ctx, evt)

	s.logger.InfoContext(ctx, "signal adopted",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)))
	return pos, nil
}

// Get returns one position by ID.
func (s *SignalService) Get(ctx context.Context, id string) (domain.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// ListOpen returns every position still under management.
func (s *SignalService) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.positions.ListOpen(ctx)
}

// ListClosed returns closed positions for history views.
func (s *SignalService) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.positions.ListClosed(ctx, opts)
}

// Events returns a signal's lifecycle events in append order.
func (s *SignalService) Events(ctx context.Context, signalID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return s.events.ListBySignal(ctx, signalID, opts)
}

// ListEvents returns the cross-signal event feed in append order.
func (s *SignalService) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return s.events.List(ctx, opts)
}

func (s *SignalService) publish(ctx context.Context, evt domain.TradeEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "trade-events", payload); err != nil {
		s.logger.WarnContext(ctx, "publish event", slog.Any("error", err))
	}
	if err := s.bus.StreamAppend(ctx, "events", payload); err != nil {
		s.logger.WarnContext(ctx, "append event to stream", slog.Any("error", err))
	}
}
