package domain

import (
	"errors"
	"math"
	"testing"
)

func validBuy() Position {
	return Position{
		ID:              "sig-1",
		Symbol:          "BTCUSDT",
		Direction:       DirectionBuy,
		EntryPrice:      100,
		InitialStopLoss: 95,
		CurrentStopLoss: 95,
		TakeProfit1:     105,
		TakeProfit2:     110,
		TakeProfit3:     120,
		Phase:           PhaseActive,
		Status:          PositionStatusOpen,
		RemainingPct:    100,
	}
}

func validSell() Position {
	return Position{
		ID:              "sig-2",
		Symbol:          "ETHUSDT",
		Direction:       DirectionSell,
		EntryPrice:      100,
		InitialStopLoss: 105,
		CurrentStopLoss: 105,
		TakeProfit1:     95,
		TakeProfit2:     90,
		TakeProfit3:     80,
		Phase:           PhaseActive,
		Status:          PositionStatusOpen,
		RemainingPct:    100,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Position)
		wantErr bool
	}{
		{"valid buy", func(p *Position) {}, false},
		{"valid sell", func(p *Position) { *p = validSell() }, false},
		{"missing symbol", func(p *Position) { p.Symbol = "" }, true},
		{"bad direction", func(p *Position) { p.Direction = "HOLD" }, true},
		{"negative entry", func(p *Position) { p.EntryPrice = -1 }, true},
		{"nan stop", func(p *Position) { p.InitialStopLoss = math.NaN() }, true},
		{"zero-width stop", func(p *Position) { p.InitialStopLoss = p.EntryPrice }, true},
		{"buy stop above entry", func(p *Position) { p.InitialStopLoss = 101 }, true},
		{"buy tp below entry", func(p *Position) { p.TakeProfit1 = 99 }, true},
		{"buy tps out of order", func(p *Position) { p.TakeProfit2 = 106; p.TakeProfit1 = 107 }, true},
		{"buy tp2 equals tp3", func(p *Position) { p.TakeProfit3 = p.TakeProfit2 }, true},
		{"sell stop below entry", func(p *Position) {
			*p = validSell()
			p.InitialStopLoss = 99
		}, true},
		{"sell tps out of order", func(p *Position) {
			*p = validSell()
			p.TakeProfit2 = 96
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validBuy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPosition) {
				t.Fatalf("error not wrapped in ErrInvalidPosition: %v", err)
			}
		})
	}
}

func TestRMultipleAt(t *testing.T) {
	buy := validBuy() // 1R = 5
	if got := buy.RMultipleAt(105); got != 1 {
		t.Fatalf("buy at TP1: got %v, want 1", got)
	}
	if got := buy.RMultipleAt(95); got != -1 {
		t.Fatalf("buy at stop: got %v, want -1", got)
	}

	sell := validSell() // 1R = 5
	if got := sell.RMultipleAt(95); got != 1 {
		t.Fatalf("sell at TP1: got %v, want 1", got)
	}
	if got := sell.RMultipleAt(105); got != -1 {
		t.Fatalf("sell at stop: got %v, want -1", got)
	}
}

func TestStopTightens(t *testing.T) {
	buy := validBuy()
	if !buy.StopTightens(100) {
		t.Fatalf("raising a BUY stop should tighten")
	}
	if buy.StopTightens(90) {
		t.Fatalf("lowering a BUY stop must never tighten")
	}
	if buy.StopTightens(buy.CurrentStopLoss) {
		t.Fatalf("equal stop is not a tightening")
	}

	sell := validSell()
	if !sell.StopTightens(100) {
		t.Fatalf("lowering a SELL stop should tighten")
	}
	if sell.StopTightens(110) {
		t.Fatalf("raising a SELL stop must never tighten")
	}
}

func TestObservePriceNeverShrinksExtrema(t *testing.T) {
	p := validBuy()
	p = p.ObservePrice(110) // +2R
	p = p.ObservePrice(95)  // -1R
	p = p.ObservePrice(102) // +0.4R, inside both extrema

	if p.MaxFavorableExcursion != 2 {
		t.Fatalf("MFE: got %v, want 2", p.MaxFavorableExcursion)
	}
	if p.MaxAdverseExcursion != 1 {
		t.Fatalf("MAE: got %v, want 1", p.MaxAdverseExcursion)
	}
}

func TestPhaseOrdering(t *testing.T) {
	order := []Phase{PhaseActive, Phase1, Phase2, Phase3, PhaseClosed}
	for i, earlier := range order {
		for _, later := range order[i+1:] {
			if !earlier.Before(later) {
				t.Fatalf("%s should be before %s", earlier, later)
			}
			if later.Before(earlier) {
				t.Fatalf("%s should not be before %s", later, earlier)
			}
		}
		if earlier.Before(earlier) {
			t.Fatalf("%s should not be before itself", earlier)
		}
	}
}
