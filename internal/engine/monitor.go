package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantship/tradelife/internal/domain"
)

const (
	cycleLockKey = "monitor:cycle"
	eventChannel = "trade-events"
	eventStream  = "events"
)

// CycleSummary reports what one monitoring pass did.
type CycleSummary struct {
	Evaluated   int
	Transitions int
	Skipped     int
	Errors      int
	Elapsed     time.Duration
}

// MonitorConfig holds the cycle driver's tunables.
type MonitorConfig struct {
	Interval     time.Duration
	PriceTimeout time.Duration
	// Concurrency bounds how many positions are evaluated and persisted in
	// parallel within one cycle.
	Concurrency int
	// MissWarnThreshold is how many consecutive cycles a symbol may go
	// without a price before a warning is logged.
	MissWarnThreshold int
	LockTTL           time.Duration
}

// MonitorDeps are the collaborators the driver orchestrates. Bus and Locks
// are optional; a nil Locks runs single-instance with only the local mutex.
type MonitorDeps struct {
	Tx        domain.TxRunner
	Positions domain.PositionStore
	Prices    domain.PriceCache
	Source    domain.PriceSource
	Bus       domain.EventBus
	Locks     domain.LockManager
}

// Monitor runs the periodic evaluation pass over all open positions. Cycles
// are single-flight: a trigger arriving while a pass is in flight is dropped,
// never queued.
type Monitor struct {
	cfg    MonitorConfig
	eval   *Evaluator
	risk   domain.RiskPolicy
	deps   MonitorDeps
	logger *slog.Logger

	mu sync.Mutex // held for the duration of one cycle

	missMu sync.Mutex
	misses map[string]int
}

func NewMonitor(cfg MonitorConfig, eval *Evaluator, risk domain.RiskPolicy, deps MonitorDeps, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MissWarnThreshold <= 0 {
		cfg.MissWarnThreshold = 3
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Monitor{
		cfg:    cfg,
		eval:   eval,
		risk:   risk,
		deps:   deps,
		logger: logger.With(slog.String("component", "monitor")),
		misses: make(map[string]int),
	}
}

// Run drives cycles on a ticker until ctx is cancelled. The in-flight cycle
// finishes its transactions before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "monitor started", slog.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			m.waitForCycle()
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.ErrorContext(ctx, "cycle failed", slog.Any("error", err))
			}
		}
	}
}

// waitForCycle blocks until any externally triggered pass drains.
func (m *Monitor) waitForCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
}

// RunCycle executes one pass: load open positions, resolve prices, evaluate,
// and persist each transition atomically. A failure on one position is
// counted and logged without blocking the rest.
func (m *Monitor) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !m.mu.TryLock() {
		return CycleSummary{}, nil
	}
	defer m.mu.Unlock()

	if m.deps.Locks != nil {
		unlock, err := m.deps.Locks.Acquire(ctx, cycleLockKey, m.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			m.logger.DebugContext(ctx, "cycle lock held elsewhere, skipping")
			return CycleSummary{}, nil
		}
		if err != nil {
			return CycleSummary{}, fmt.Errorf("engine: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()

	positions, err := m.deps.Positions.ListOpen(ctx)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("engine: list open positions: %w", err)
	}
	if len(positions) == 0 {
		return CycleSummary{Elapsed: time.Since(start)}, nil
	}

	prices := m.resolvePrices(ctx, positions)

	var (
		sumMu   sync.Mutex
		summary CycleSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, pos := range positions {
		g.Go(func() error {
			price, ok := prices[pos.Symbol]
			sumMu.Lock()
			if !ok {
				summary.Skipped++
				sumMu.Unlock()
				return nil
			}
			summary.Evaluated++
			sumMu.Unlock()

			transitioned, err := m.evaluateAndPersist(gctx, pos, price)
			sumMu.Lock()
			defer sumMu.Unlock()
			if err != nil {
				summary.Errors++
				m.logger.ErrorContext(gctx, "position update failed",
					slog.String("position_id", pos.ID),
					slog.String("symbol", pos.Symbol),
					slog.Any("error", err))
				return nil
			}
			if transitioned {
				summary.Transitions++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Elapsed = time.Since(start)
	m.logger.InfoContext(ctx, "cycle complete",
		slog.Int("evaluated", summary.Evaluated),
		slog.Int("transitions", summary.Transitions),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
		slog.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

// resolvePrices returns a price per distinct symbol, cache first with a pull
// fallback. Symbols with no price this cycle are tracked so a persistent
// outage surfaces as a warning.
func (m *Monitor) resolvePrices(ctx context.Context, positions []domain.Position) map[string]float64 {
	symbols := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; !ok {
			seen[p.Symbol] = struct{}{}
			symbols = append(symbols, p.Symbol)
		}
	}

	prices := make(map[string]float64, len(symbols))
	if m.deps.Prices != nil {
		cached, err := m.deps.Prices.GetPrices(ctx, symbols)
		if err != nil {
			m.logger.WarnContext(ctx, "price cache read failed", slog.Any("error", err))
		} else {
			prices = cached
		}
	}

	for _, sym := range symbols {
		if _, ok := prices[sym]; ok {
			m.clearMiss(sym)
			continue
		}
		if m.deps.Source == nil {
			m.recordMiss(ctx, sym)
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
		price, err := m.deps.Source.FetchPrice(fctx, sym)
		cancel()
		if err != nil {
			m.recordMiss(ctx, sym)
			continue
		}
		prices[sym] = price
		m.clearMiss(sym)
	}
	return prices
}

func (m *Monitor) recordMiss(ctx context.Context, symbol string) {
	m.missMu.Lock()
	m.misses[symbol]++
	n := m.misses[symbol]
	m.missMu.Unlock()
	if n >= m.cfg.MissWarnThreshold {
		m.logger.WarnContext(ctx, "no price for symbol",
			slog.String("symbol", symbol),
			slog.Int("consecutive_cycles", n))
	}
}

func (m *Monitor) clearMiss(symbol string) {
	m.missMu.Lock()
	delete(m.misses, symbol)
	m.missMu.Unlock()
}

// evaluateAndPersist runs the evaluator for one position and commits the
// result. Position update, event append and ledger update share one
// transaction. Reports whether a transition was applied.
func (m *Monitor) evaluateAndPersist(ctx context.Context, pos domain.Position, price float64) (bool, error) {
	now := time.Now().UTC()

	tr, err := m.eval.Evaluate(pos, price, now)
	if errors.Is(err, domain.ErrInvalidPosition) {
		return false, m.parkInError(ctx, pos, price, now, err)
	}
	if err != nil {
		return false, err
	}

	if tr.Kind == TransitionNone {
		updated := tr.Position
		if updated.MaxFavorableExcursion == pos.MaxFavorableExcursion &&
			updated.MaxAdverseExcursion == pos.MaxAdverseExcursion {
			return false, nil
		}
		if err := m.deps.Positions.UpdateExcursions(ctx, pos.ID,
			updated.MaxFavorableExcursion, updated.MaxAdverseExcursion); err != nil {
			return false, fmt.Errorf("engine: update excursions: %w", err)
		}
		return false, nil
	}

	for i := range tr.Events {
		tr.Events[i].ID = uuid.NewString()
	}

	err = m.deps.Tx.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Positions().UpdateTransition(ctx, tr.Position); err != nil {
			return err
		}
		for _, evt := range tr.Events {
			if err := tx.Events().Append(ctx, evt); err != nil {
				return err
			}
		}
		if tr.Close != nil {
			ledger, err := tx.Ledgers().GetForUpdate(ctx, domain.Day(now))
			if err != nil {
				return err
			}
			ledger = ledger.ApplyClose(*tr.Close, m.risk)
			ledger.UpdatedAt = now
			return tx.Ledgers().Put(ctx, ledger)
		}
		return nil
	})
	if errors.Is(err, domain.ErrPhaseRegression) {
		return false, m.parkInError(ctx, pos, price, now, err)
	}
	if err != nil {
		return false, fmt.Errorf("engine: commit transition %s for %s: %w", tr.Kind, pos.ID, err)
	}

	m.publish(ctx, tr.Events)

	m.logger.InfoContext(ctx, "transition applied",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("kind", string(tr.Kind)),
		slog.String("phase", string(tr.Position.Phase)),
		slog.Float64("price", price))
	return true, nil
}

// parkInError moves a position to ERROR status and records why, in one
// transaction. The position is excluded from further cycles until reviewed.
func (m *Monitor) parkInError(ctx context.Context, pos domain.Position, price float64, now time.Time, cause error) error {
	evt := domain.TradeEvent{
		ID:        uuid.NewString(),
		SignalID:  pos.ID,
		Type:      domain.EventError,
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Phase:     pos.Phase,
		Price:     price,
		Reason:    cause.Error(),
		CreatedAt: now,
	}
	err := m.deps.Tx.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Positions().MarkError(ctx, pos.ID, cause.Error()); err != nil {
			return err
		}
		return tx.Events().Append(ctx, evt)
	})
	if err != nil {
		return fmt.Errorf("engine: park position %s in error: %w", pos.ID, err)
	}

	m.publish(ctx, []domain.TradeEvent{evt})

	m.logger.WarnContext(ctx, "position parked in error",
		slog.String("position_id", pos.ID),
		slog.Any("cause", cause))
	return nil
}

// publish fans committed events out to live subscribers and the durable
// stream. Bus failures are logged, never propagated: the transaction already
// committed and the store remains the source of truth.
func (m *Monitor) publish(ctx context.Context, events []domain.TradeEvent) {
	if m.deps.Bus == nil {
		return
	}
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			m.logger.ErrorContext(ctx, "marshal event", slog.Any("error", err))
			continue
		}
		if err := m.deps.Bus.Publish(ctx, eventChannel, payload); err != nil {
			m.logger.WarnContext(ctx, "publish event", slog.Any("error", err))
		}
		if err := m.deps.Bus.StreamAppend(ctx, eventStream, payload); err != nil {
			m.logger.WarnContext(ctx, "append event to stream", slog.Any("error", err))
		}
	}
}
