package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func eurusdBuy() domain.Position {
	return domain.Position{
		ID:              "sig-eur",
		Symbol:          "EURUSD",
		Direction:       domain.DirectionBuy,
		EntryPrice:      1.08500,
		InitialStopLoss: 1.08300,
		CurrentStopLoss: 1.08300,
		TakeProfit1:     1.08900,
		TakeProfit2:     1.09200,
		TakeProfit3:     1.09500,
		Phase:           domain.PhaseActive,
		Status:          domain.PositionStatusOpen,
		RemainingPct:    100,
	}
}

func usdjpySell() domain.Position {
	return domain.Position{
		ID:              "sig-jpy",
		Symbol:          "USDJPY",
		Direction:       domain.DirectionSell,
		EntryPrice:      150.00,
		InitialStopLoss: 150.20,
		CurrentStopLoss: 150.20,
		TakeProfit1:     149.80,
		TakeProfit2:     149.60,
		TakeProfit3:     149.40,
		Phase:           domain.PhaseActive,
		Status:          domain.PositionStatusOpen,
		RemainingPct:    100,
	}
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func eventTypes(evts []domain.TradeEvent) []domain.EventType {
	out := make([]domain.EventType, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func TestEvaluateTP1MovesStopToBreakeven(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	tr, err := ev.Evaluate(eurusdBuy(), 1.08900, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Kind != TransitionTP1 {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionTP1)
	}

	pos := tr.Position
	if pos.Phase != domain.Phase1 {
		t.Fatalf("phase: got %s, want PHASE1", pos.Phase)
	}
	if pos.CurrentStopLoss != 1.08500 {
		t.Fatalf("stop: got %v, want entry 1.08500", pos.CurrentStopLoss)
	}
	if !pos.TP1Closed {
		t.Fatalf("tp1_closed not set")
	}
	if !approx(pos.RemainingPct, 100.0*2/3, 0.5) {
		t.Fatalf("remaining: got %v, want ~67", pos.RemainingPct)
	}
	// TP1 sits 2R from entry; one third closed realizes 2/3 R.
	if !approx(pos.RealizedR, 2.0/3, 1e-9) {
		t.Fatalf("realized R: got %v, want 2/3", pos.RealizedR)
	}

	types := eventTypes(tr.Events)
	if len(types) != 2 || types[0] != domain.EventTP1Hit || types[1] != domain.EventMovedToBreakeven {
		t.Fatalf("events: got %v", types)
	}
	if tr.Close == nil || tr.Close.Final {
		t.Fatalf("TP1 close must be a non-final ledger contribution, got %+v", tr.Close)
	}
}

func TestEvaluateBreakevenStopAfterTP1(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	tr, err := ev.Evaluate(eurusdBuy(), 1.08900, now)
	if err != nil {
		t.Fatalf("tp1: %v", err)
	}
	tr, err = ev.Evaluate(tr.Position, 1.08300, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("stop-out: %v", err)
	}
	if tr.Kind != TransitionStopOut {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionStopOut)
	}

	pos := tr.Position
	if pos.Phase != domain.PhaseClosed || pos.RemainingPct != 0 {
		t.Fatalf("not fully closed: phase=%s remaining=%v", pos.Phase, pos.RemainingPct)
	}
	// Remainder filled at the breakeven stop realizes 0R; the trade keeps
	// only the TP1 contribution.
	if !approx(pos.RealizedR, 2.0/3, 1e-9) {
		t.Fatalf("cumulative R: got %v, want 2/3", pos.RealizedR)
	}
	if tr.Close == nil || !tr.Close.Final {
		t.Fatalf("stop-out must be a final close")
	}
	if !approx(tr.Close.RealizedR, 0, 1e-9) {
		t.Fatalf("remainder close R: got %v, want 0", tr.Close.RealizedR)
	}
}

func TestEvaluateImmediateStopOutSell(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	tr, err := ev.Evaluate(usdjpySell(), 150.20, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Kind != TransitionStopOut {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionStopOut)
	}
	if tr.Position.Phase != domain.PhaseClosed {
		t.Fatalf("phase: got %s, want CLOSED", tr.Position.Phase)
	}
	if !approx(tr.Close.CumulativeR, -1, 1e-9) {
		t.Fatalf("full stop-out: got %vR, want -1R", tr.Close.CumulativeR)
	}
	if len(tr.Events) != 1 || tr.Events[0].Type != domain.EventStoppedOut {
		t.Fatalf("events: got %v", eventTypes(tr.Events))
	}
}

func TestEvaluateFullLifecycleConservation(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())
	pos := eurusdBuy()
	closed := 0.0

	ticks := []float64{1.08600, 1.08900, 1.09000, 1.09200, 1.09500}
	lastRank := domain.PhaseActive
	for _, price := range ticks {
		tr, err := ev.Evaluate(pos, price, now)
		if err != nil {
			t.Fatalf("evaluate at %v: %v", price, err)
		}
		if tr.Position.Phase.Before(lastRank) {
			t.Fatalf("phase regressed from %s to %s", lastRank, tr.Position.Phase)
		}
		if tr.Position.RemainingPct > pos.RemainingPct {
			t.Fatalf("remaining pct increased at %v", price)
		}
		closed += pos.RemainingPct - tr.Position.RemainingPct
		lastRank = tr.Position.Phase
		pos = tr.Position
		if pos.Phase == domain.PhaseClosed {
			break
		}
	}

	if pos.Phase != domain.PhaseClosed {
		t.Fatalf("lifecycle did not complete, phase=%s", pos.Phase)
	}
	if !approx(closed, 100, 1e-9) {
		t.Fatalf("closed fractions sum to %v, want exactly 100", closed)
	}
	// Tranches realize 2R/3 + 3.5R/3 + 5R/3 with targets at 2R, 3.5R, 5R.
	if !approx(pos.RealizedR, (2+3.5+5)/3, 1e-9) {
		t.Fatalf("total R: got %v, want %v", pos.RealizedR, (2+3.5+5)/3)
	}
}

func TestEvaluateTrailingRunner(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())
	pos := eurusdBuy()

	for _, price := range []float64{1.08900, 1.09200} {
		tr, err := ev.Evaluate(pos, price, now)
		if err != nil {
			t.Fatalf("evaluate at %v: %v", price, err)
		}
		pos = tr.Position
	}
	if pos.Phase != domain.Phase2 || pos.CurrentStopLoss != pos.TakeProfit1 {
		t.Fatalf("setup failed: phase=%s stop=%v", pos.Phase, pos.CurrentStopLoss)
	}

	// 1R = 0.002, trail distance 0.5R = 0.001.
	tr, err := ev.Evaluate(pos, 1.09400, now)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if tr.Kind != TransitionTrail {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionTrail)
	}
	if tr.Position.Phase != domain.Phase3 {
		t.Fatalf("first ratchet should advance to PHASE3, got %s", tr.Position.Phase)
	}
	if !approx(tr.Position.CurrentStopLoss, 1.09300, 1e-9) {
		t.Fatalf("trailed stop: got %v, want 1.09300", tr.Position.CurrentStopLoss)
	}
	pos = tr.Position

	// Pullback below the trailed stop closes the runner at the stop.
	tr, err = ev.Evaluate(pos, 1.09250, now)
	if err != nil {
		t.Fatalf("trail stop-out: %v", err)
	}
	if tr.Kind != TransitionStopOut {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionStopOut)
	}
	if !tr.Close.Final {
		t.Fatalf("runner stop-out must be final")
	}
}

func TestEvaluateTrailNeverLoosens(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())
	pos := eurusdBuy()
	pos.Phase = domain.Phase2
	pos.CurrentStopLoss = 1.09300
	pos.RemainingPct = 100.0 / 3
	pos.TP1Closed, pos.TP2Closed = true, true

	// Candidate stop 1.09250 is below the current stop; no adjustment.
	tr, err := ev.Evaluate(pos, 1.09350, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Kind != TransitionNone {
		t.Fatalf("kind: got %s, want none", tr.Kind)
	}
	if tr.Position.CurrentStopLoss != 1.09300 {
		t.Fatalf("stop loosened to %v", tr.Position.CurrentStopLoss)
	}
}

func TestEvaluateStopOutBeatsTargetOnSameTick(t *testing.T) {
	// Gap scenario: the stop has been trailed past the final target, and a
	// single tick satisfies both conditions. Risk-first: stop-out wins.
	ev := NewEvaluator(DefaultPolicy())
	pos := eurusdBuy()
	pos.Phase = domain.Phase3
	pos.CurrentStopLoss = 1.09600
	pos.RemainingPct = 100.0 / 3
	pos.TP1Closed, pos.TP2Closed = true, true

	tr, err := ev.Evaluate(pos, 1.09550, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Kind != TransitionStopOut {
		t.Fatalf("kind: got %s, want %s", tr.Kind, TransitionStopOut)
	}
}

func TestEvaluateIdempotentAfterTransition(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	tr, err := ev.Evaluate(eurusdBuy(), 1.08900, now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	again, err := ev.Evaluate(tr.Position, 1.08900, now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Kind != TransitionNone {
		t.Fatalf("re-run produced %s, want none", again.Kind)
	}
	if again.Position.RealizedR != tr.Position.RealizedR {
		t.Fatalf("re-run double-counted R: %v -> %v", tr.Position.RealizedR, again.Position.RealizedR)
	}
}

func TestEvaluateNoTransitionUpdatesExcursions(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	tr, err := ev.Evaluate(eurusdBuy(), 1.08700, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Kind != TransitionNone {
		t.Fatalf("kind: got %s, want none", tr.Kind)
	}
	if tr.Position.MaxFavorableExcursion != 1 {
		t.Fatalf("MFE: got %v, want 1", tr.Position.MaxFavorableExcursion)
	}
}

func TestEvaluateRejectsBadInputs(t *testing.T) {
	ev := NewEvaluator(DefaultPolicy())

	if _, err := ev.Evaluate(eurusdBuy(), math.NaN(), now); err == nil {
		t.Fatalf("NaN price accepted")
	}
	if _, err := ev.Evaluate(eurusdBuy(), -1, now); err == nil {
		t.Fatalf("negative price accepted")
	}

	closed := eurusdBuy()
	closed.Phase = domain.PhaseClosed
	closed.Status = domain.PositionStatusClosed
	closed.RemainingPct = 0
	if _, err := ev.Evaluate(closed, 1.08700, now); !errors.Is(err, domain.ErrPositionClosed) {
		t.Fatalf("closed position: got %v, want ErrPositionClosed", err)
	}

	bad := eurusdBuy()
	bad.TakeProfit2 = 1.08000
	if _, err := ev.Evaluate(bad, 1.08700, now); !errors.Is(err, domain.ErrInvalidPosition) {
		t.Fatalf("invalid position: got %v, want ErrInvalidPosition", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	p := DefaultPolicy()
	p.TP1Fraction = 0.6
	p.TP2Fraction = 0.5
	if err := p.Validate(); err == nil {
		t.Fatalf("oversized tranches accepted")
	}

	p = DefaultPolicy()
	p.TrailDistanceR = 0
	if err := p.Validate(); err == nil {
		t.Fatalf("zero trail distance accepted")
	}
}
