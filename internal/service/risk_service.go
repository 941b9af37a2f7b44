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

// RiskService serves the daily ledger to dashboards and owns the operator
// clear-pause path.
type RiskService struct {
	tx      domain.TxRunner
	ledgers domain.LedgerStore
	bus     domain.EventBus
	logger  *slog.Logger
}

func NewRiskService(tx domain.TxRunner, ledgers domain.LedgerStore, bus domain.EventBus, logger *slog.Logger) *RiskService {
	return &RiskService{
		tx:      tx,
		ledgers: ledgers,
		bus:     bus,
		logger:  logger.With(slog.String("component", "risk_service")),
	}
}

// Today returns the current UTC day's ledger.
func (s *RiskService) Today(ctx context.Context) (domain.DailyRiskLedger, error) {
	return s.ledgers.Get(ctx, domain.Day(time.Now()))
}

// Recent returns the latest daily ledgers, newest first.
func (s *RiskService) Recent(ctx context.Context, limit int) ([]domain.DailyRiskLedger, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.ledgers.ListRecent(ctx, limit)
}

// PauseStatus reports whether signal issuance is currently paused and why.
// This is the contract the signal-issuing component polls before creating.
// The pause outlives the day it tripped on, so the check is not scoped to
// today's ledger.
func (s *RiskService) PauseStatus(ctx context.Context) (bool, string, error) {
	ledger, paused, err := s.ledgers.ActivePause(ctx)
	if err != nil {
		return false, "", err
	}
	if !paused {
		return false, "", nil
	}
	return true, ledger.PauseReason, nil
}

// ClearPause lifts the circuit breaker. It is the only path that does: the
// engine never clears the flag on its own, not even at a day rollover. The
// flag flip and its audit event commit together. Returns ErrNotPaused when
// there is nothing to clear.
func (s *RiskService) ClearPause(ctx context.Context, operator string) error {
	now := time.Now().UTC()

	ledger, paused, err := s.ledgers.ActivePause(ctx)
	if err != nil {
		return fmt.Errorf("service: read ledger: %w", err)
	}
	if !paused {
		return domain.ErrNotPaused
	}
	day := ledger.Day

	evt := domain.TradeEvent{
		ID:        uuid.NewString(),
		SignalID:  "risk-ledger",
		Type:      domain.EventPauseCleared,
		Reason:    fmt.Sprintf("pause cleared by %s (was: %s)", operator, ledger.PauseReason),
		CreatedAt: now,
	}

	err = s.tx.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Ledgers().SetPaused(ctx, day, false, ""); err != nil {
			return err
		}
		return tx.Events().Append(ctx, evt)
	})
	if err != nil {
		return fmt.Errorf("service: clear pause: %w", err)
	}

	if s.bus != nil {
		if payload, err := json.Marshal(evt); err == nil {
			_ = s.bus.Publish(ctx, "trade-events", payload)
			_ = s.bus.StreamAppend(ctx, "events", payload)
		}
	}

	s.logger.InfoContext(ctx, "pause cleared", slog.String("operator", operator))
	return nil
}
