package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// memStores is an in-memory implementation of the store interfaces with a
// snapshot-restore transaction so rollback behavior can be exercised.
type memStores struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	events    []domain.TradeEvent
	ledgers   map[time.Time]domain.DailyRiskLedger
	failTx    bool
}

func newMemStores() *memStores {
	return &memStores{
		positions: make(map[string]domain.Position),
		ledgers:   make(map[time.Time]domain.DailyRiskLedger),
	}
}

func (m *memStores) Positions() domain.PositionStore { return m }
func (m *memStores) Events() domain.EventStore       { return m }
func (m *memStores) Ledgers() domain.LedgerStore     { return m }

func (m *memStores) WithinTx(ctx context.Context, fn func(tx domain.TxStores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapPositions := make(map[string]domain.Position, len(m.positions))
	for k, v := range m.positions {
		snapPositions[k] = v
	}
	snapEvents := append([]domain.TradeEvent(nil), m.events...)
	snapLedgers := make(map[time.Time]domain.DailyRiskLedger, len(m.ledgers))
	for k, v := range m.ledgers {
		snapLedgers[k] = v
	}

	err := fn(m)
	if err == nil && m.failTx {
		err = fmt.Errorf("commit refused")
	}
	if err != nil {
		m.positions = snapPositions
		m.events = snapEvents
		m.ledgers = snapLedgers
		return err
	}
	return nil
}

func (m *memStores) Create(ctx context.Context, pos domain.Position) error {
	m.positions[pos.ID] = pos
	return nil
}

func (m *memStores) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := m.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memStores) ListOpen(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range m.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStores) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (m *memStores) UpdateTransition(ctx context.Context, pos domain.Position) error {
	prev, ok := m.positions[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Phase.Before(prev.Phase) {
		return domain.ErrPhaseRegression
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *memStores) UpdateExcursions(ctx context.Context, id string, mfe, mae float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.MaxFavorableExcursion = mfe
	pos.MaxAdverseExcursion = mae
	m.positions[id] = pos
	return nil
}

func (m *memStores) MarkError(ctx context.Context, id, reason string) error {
	pos, ok := m.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.Status = domain.PositionStatusError
	m.positions[id] = pos
	return nil
}

func (m *memStores) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	return nil, nil
}

func (m *memStores) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memStores) Append(ctx context.Context, evt domain.TradeEvent) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *memStores) ListBySignal(ctx context.Context, signalID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	var out []domain.TradeEvent
	for _, e := range m.events {
		if e.SignalID == signalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStores) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return append([]domain.TradeEvent(nil), m.events...), nil
}

func (m *memStores) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeEvent, error) {
	return nil, nil
}

func (m *memStores) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memStores) Get(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	if l, ok := m.ledgers[day]; ok {
		return l, nil
	}
	return domain.DailyRiskLedger{Day: day}, nil
}

func (m *memStores) GetForUpdate(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	return m.Get(ctx, day)
}

func (m *memStores) Put(ctx context.Context, ledger domain.DailyRiskLedger) error {
	m.ledgers[ledger.Day] = ledger
	return nil
}

func (m *memStores) SetPaused(ctx context.Context, day time.Time, paused bool, reason string) error {
	l, _ := m.Get(ctx, day)
	l.BotPaused = paused
	l.PauseReason = reason
	m.ledgers[day] = l
	return nil
}

func (m *memStores) ActivePause(ctx context.Context) (domain.DailyRiskLedger, bool, error) {
	var latest domain.DailyRiskLedger
	var found bool
	for _, l := range m.ledgers {
		if l.BotPaused && (!found || l.Day.After(latest.Day)) {
			latest = l
			found = true
		}
	}
	return latest, found, nil
}

func (m *memStores) ListRecent(ctx context.Context, limit int) ([]domain.DailyRiskLedger, error) {
	return nil, nil
}

type memPrices struct {
	prices map[string]float64
}

func (c *memPrices) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	c.prices[symbol] = price
	return nil
}

func (c *memPrices) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	p, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c *memPrices) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type staticSource struct {
	prices map[string]float64
}

func (s *staticSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	p, ok := s.prices[symbol]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func testMonitor(stores *memStores, prices map[string]float64) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := DefaultPolicy()
	return NewMonitor(MonitorConfig{}, NewEvaluator(policy), policy.Risk, MonitorDeps{
		Tx:        stores,
		Positions: stores,
		Prices:    &memPrices{prices: prices},
	}, logger)
}

func TestRunCycleAppliesTransition(t *testing.T) {
	stores := newMemStores()
	pos := eurusdBuy()
	stores.positions[pos.ID] = pos

	m := testMonitor(stores, map[string]float64{"EURUSD": 1.08900})
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Evaluated != 1 || summary.Transitions != 1 || summary.Errors != 0 {
		t.Fatalf("summary: %+v", summary)
	}

	got := stores.positions[pos.ID]
	if got.Phase != domain.Phase1 {
		t.Fatalf("phase: got %s, want PHASE1", got.Phase)
	}
	types := eventTypes(stores.events)
	if len(types) != 2 || types[0] != domain.EventTP1Hit || types[1] != domain.EventMovedToBreakeven {
		t.Fatalf("events: %v", types)
	}
	for _, e := range stores.events {
		if e.ID == "" {
			t.Fatalf("event persisted without id")
		}
	}

	ledger := stores.ledgers[domain.Day(time.Now())]
	if !approx(ledger.TotalR, 2.0/3, 1e-9) {
		t.Fatalf("ledger TotalR: got %v, want 2/3", ledger.TotalR)
	}
	if ledger.TotalTrades != 0 {
		t.Fatalf("partial close counted as trade")
	}
}

func TestRunCycleSkipsSymbolWithoutPrice(t *testing.T) {
	stores := newMemStores()
	pos := eurusdBuy()
	stores.positions[pos.ID] = pos

	m := testMonitor(stores, nil)
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Skipped != 1 || summary.Evaluated != 0 {
		t.Fatalf("summary: %+v", summary)
	}
	if got := stores.positions[pos.ID]; got.Phase != domain.PhaseActive {
		t.Fatalf("position should be untouched, phase=%s", got.Phase)
	}
}

func TestRunCycleFallsBackToPriceSource(t *testing.T) {
	stores := newMemStores()
	pos := eurusdBuy()
	stores.positions[pos.ID] = pos

	m := testMonitor(stores, nil)
	m.deps.Source = &staticSource{prices: map[string]float64{"EURUSD": 1.08900}}

	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Transitions != 1 {
		t.Fatalf("summary: %+v", summary)
	}
}

func TestRunCycleIsolatesInvalidPosition(t *testing.T) {
	stores := newMemStores()
	good := eurusdBuy()
	bad := eurusdBuy()
	bad.ID = "sig-bad"
	bad.TakeProfit2 = 1.08000 // out of order
	stores.positions[good.ID] = good
	stores.positions[bad.ID] = bad

	m := testMonitor(stores, map[string]float64{"EURUSD": 1.08900})
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Transitions != 1 {
		t.Fatalf("good position blocked by bad one: %+v", summary)
	}

	parked := stores.positions[bad.ID]
	if parked.Status != domain.PositionStatusError {
		t.Fatalf("invalid position status: got %s, want error", parked.Status)
	}
	var sawError bool
	for _, e := range stores.events {
		if e.SignalID == bad.ID && e.Type == domain.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("no ERROR event for invalid position")
	}
}

func TestRunCycleRollsBackFailedCommit(t *testing.T) {
	stores := newMemStores()
	pos := eurusdBuy()
	stores.positions[pos.ID] = pos
	stores.failTx = true

	m := testMonitor(stores, map[string]float64{"EURUSD": 1.08900})
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	got := stores.positions[pos.ID]
	if got.Phase != domain.PhaseActive || len(stores.events) != 0 {
		t.Fatalf("partial application after rollback: phase=%s events=%d", got.Phase, len(stores.events))
	}
}

func TestRunCycleConsecutiveStopOutsPause(t *testing.T) {
	stores := newMemStores()
	for i := 0; i < 3; i++ {
		pos := eurusdBuy()
		pos.ID = fmt.Sprintf("sig-%d", i)
		stores.positions[pos.ID] = pos
	}

	m := testMonitor(stores, map[string]float64{"EURUSD": 1.08300})
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Transitions != 3 {
		t.Fatalf("summary: %+v", summary)
	}

	ledger := stores.ledgers[domain.Day(time.Now())]
	if ledger.LosingTrades != 3 || ledger.ConsecutiveLosses != 3 {
		t.Fatalf("ledger: %+v", ledger)
	}
	if !ledger.BotPaused {
		t.Fatalf("circuit breaker did not trip after 3 consecutive losses")
	}
}

func TestRunCycleNoOpOnExcursionOnlyTick(t *testing.T) {
	stores := newMemStores()
	pos := eurusdBuy()
	stores.positions[pos.ID] = pos

	m := testMonitor(stores, map[string]float64{"EURUSD": 1.08700})
	summary, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Transitions != 0 || summary.Evaluated != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	got := stores.positions[pos.ID]
	if got.MaxFavorableExcursion != 1 {
		t.Fatalf("MFE not persisted: %v", got.MaxFavorableExcursion)
	}
}
