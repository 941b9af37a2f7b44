package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// fakeStores backs the service tests with maps and a pass-through
// transaction.
type fakeStores struct {
	positions map[string]domain.Position
	events    []domain.TradeEvent
	ledgers   map[time.Time]domain.DailyRiskLedger
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		positions: make(map[string]domain.Position),
		ledgers:   make(map[time.Time]domain.DailyRiskLedger),
	}
}

func (f *fakeStores) Positions() domain.PositionStore { return f }
func (f *fakeStores) Events() domain.EventStore       { return f }
func (f *fakeStores) Ledgers() domain.LedgerStore     { return f }

func (f *fakeStores) WithinTx(ctx context.Context, fn func(tx domain.TxStores) error) error {
	return fn(f)
}

func (f *fakeStores) Create(ctx context.Context, pos domain.Position) error {
	if _, ok := f.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakeStores) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakeStores) ListOpen(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStores) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeStores) UpdateTransition(ctx context.Context, pos domain.Position) error { return nil }

func (f *fakeStores) UpdateExcursions(ctx context.Context, id string, mfe, mae float64) error {
	return nil
}

func (f *fakeStores) MarkError(ctx context.Context, id, reason string) error { return nil }

func (f *fakeStores) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeStores) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStores) Append(ctx context.Context, evt domain.TradeEvent) error {
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStores) ListBySignal(ctx context.Context, signalID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	var out []domain.TradeEvent
	for _, e := range f.events {
		if e.SignalID == signalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStores) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return append([]domain.TradeEvent(nil), f.events...), nil
}

func (f *fakeStores) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeEvent, error) {
	return nil, nil
}

func (f *fakeStores) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStores) Get(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	if l, ok := f.ledgers[day]; ok {
		return l, nil
	}
	return domain.DailyRiskLedger{Day: day}, nil
}

func (f *fakeStores) GetForUpdate(ctx context.Context, day time.Time) (domain.DailyRiskLedger, error) {
	return f.Get(ctx, day)
}

func (f *fakeStores) Put(ctx context.Context, ledger domain.DailyRiskLedger) error {
	f.ledgers[ledger.Day] = ledger
	return nil
}

func (f *fakeStores) SetPaused(ctx context.Context, day time.Time, paused bool, reason string) error {
	l, _ := f.Get(ctx, day)
	l.BotPaused = paused
	l.PauseReason = reason
	f.ledgers[day] = l
	return nil
}

func (f *fakeStores) ActivePause(ctx context.Context) (domain.DailyRiskLedger, bool, error) {
	var latest domain.DailyRiskLedger
	var found bool
	for _, l := range f.ledgers {
		if l.BotPaused && (!found || l.Day.After(latest.Day)) {
			latest = l
			found = true
		}
	}
	return latest, found, nil
}

func (f *fakeStores) ListRecent(ctx context.Context, limit int) ([]domain.DailyRiskLedger, error) {
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validInput() CreateSignalInput {
	return CreateSignalInput{
		Symbol:      "EURUSD",
		Direction:   domain.DirectionBuy,
		EntryPrice:  1.08500,
		StopLoss:    1.08300,
		TakeProfit1: 1.08900,
		TakeProfit2: 1.09200,
		TakeProfit3: 1.09500,
	}
}

func TestCreateAdoptsValidSignal(t *testing.T) {
	stores := newFakeStores()
	svc := NewSignalService(stores, stores, stores, stores, nil, discard())

	pos, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pos.ID == "" {
		t.Fatalf("no id assigned")
	}
	if pos.Phase != domain.PhaseActive || pos.RemainingPct != 100 {
		t.Fatalf("adopted state: phase=%s remaining=%v", pos.Phase, pos.RemainingPct)
	}
	if pos.CurrentStopLoss != pos.InitialStopLoss {
		t.Fatalf("current stop must start at the initial stop")
	}

	if _, ok := stores.positions[pos.ID]; !ok {
		t.Fatalf("position not persisted")
	}
	if len(stores.events) != 1 || stores.events[0].Type != domain.EventActivated {
		t.Fatalf("expected one ACTIVATED event, got %+v", stores.events)
	}
	if stores.events[0].SignalID != pos.ID {
		t.Fatalf("event not linked to position")
	}
}

func TestCreateRejectsInvalidSignal(t *testing.T) {
	stores := newFakeStores()
	svc := NewSignalService(stores, stores, stores, stores, nil, discard())

	in := validInput()
	in.TakeProfit2 = 1.08000 // below TP1

	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, domain.ErrInvalidPosition) {
		t.Fatalf("got %v, want ErrInvalidPosition", err)
	}
	if len(stores.positions) != 0 || len(stores.events) != 0 {
		t.Fatalf("rejected signal left state behind")
	}
}

func TestCreateBlockedWhilePaused(t *testing.T) {
	stores := newFakeStores()
	day := domain.Day(time.Now())
	stores.ledgers[day] = domain.DailyRiskLedger{
		Day:         day,
		BotPaused:   true,
		PauseReason: "3 consecutive losses",
	}
	svc := NewSignalService(stores, stores, stores, stores, nil, discard())

	_, err := svc.Create(context.Background(), validInput())
	if !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("got %v, want ErrPaused", err)
	}
	if len(stores.positions) != 0 {
		t.Fatalf("paused engine adopted a signal")
	}
}

func TestCreateBlockedByPauseFromPreviousDay(t *testing.T) {
	stores := newFakeStores()
	yesterday := domain.Day(time.Now().AddDate(0, 0, -1))
	stores.ledgers[yesterday] = domain.DailyRiskLedger{
		Day:         yesterday,
		BotPaused:   true,
		PauseReason: "3 consecutive losses",
	}
	svc := NewSignalService(stores, stores, stores, stores, nil, discard())

	_, err := svc.Create(context.Background(), validInput())
	if !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("got %v, want ErrPaused: an uncleared pause must survive the day rollover", err)
	}
	if len(stores.positions) != 0 {
		t.Fatalf("day rollover silently cleared the circuit breaker")
	}
}
