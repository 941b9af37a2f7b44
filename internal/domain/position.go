package domain

import (
	"fmt"
	"math"
	"time"
)

// Direction is the side of a trade signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Phase tracks how far a position has progressed through its lifecycle.
// Phases only ever advance; there are no backward transitions.
type Phase string

const (
	PhaseActive Phase = "ACTIVE" // entered, no take-profit hit yet
	Phase1      Phase = "PHASE1" // TP1 hit, stop moved to breakeven
	Phase2      Phase = "PHASE2" // TP2 hit, stop locked at TP1
	Phase3      Phase = "PHASE3" // runner trailing, stop ratcheting behind price
	PhaseClosed Phase = "CLOSED" // nothing left open
)

// phaseRank orders phases for monotonicity checks.
var phaseRank = map[Phase]int{
	PhaseActive: 0,
	Phase1:      1,
	Phase2:      2,
	Phase3:      3,
	PhaseClosed: 4,
}

// Before reports whether p is strictly earlier in the lifecycle than other.
func (p Phase) Before(other Phase) bool {
	return phaseRank[p] < phaseRank[other]
}

// PositionStatus distinguishes normal open/closed positions from ones parked
// in a terminal error state awaiting manual review.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
	PositionStatusError  PositionStatus = "error"
)

// Position is the engine's durable record of one live trading signal. The
// engine is the sole writer; signal creation populates the immutable fields
// and every subsequent mutation flows through a lifecycle transition.
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	EntryPrice      float64 `json:"entry_price"`
	InitialStopLoss float64 `json:"initial_stop_loss"`
	CurrentStopLoss float64 `json:"current_stop_loss"`
	TakeProfit1     float64 `json:"take_profit_1"`
	TakeProfit2     float64 `json:"take_profit_2"`
	TakeProfit3     float64 `json:"take_profit_3"`

	Phase  Phase          `json:"phase"`
	Status PositionStatus `json:"status"`

	// ErrorReason explains why a position was parked in error status.
	ErrorReason string `json:"error_reason,omitempty"`

	// RemainingPct is the percentage of the original position still open,
	// 100 at activation and exactly 0 once Phase reaches CLOSED.
	RemainingPct float64 `json:"remaining_position_pct"`

	TP1Closed bool    `json:"tp1_closed"`
	TP2Closed bool    `json:"tp2_closed"`
	TP1PnL    float64 `json:"tp1_pnl"` // R realized at the TP1 partial close, set once
	TP2PnL    float64 `json:"tp2_pnl"` // R realized at the TP2 partial close, set once

	// RealizedR accumulates the R-multiples of every partial and final close.
	RealizedR float64 `json:"realized_r"`

	// MaxFavorableExcursion / MaxAdverseExcursion track the best and worst
	// R-multiple the position has seen since activation. Never reset.
	MaxFavorableExcursion float64 `json:"max_favorable_excursion"`
	MaxAdverseExcursion   float64 `json:"max_adverse_excursion"`

	ActivatedAt time.Time  `json:"activated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// RiskUnit returns 1R: the absolute price distance between entry and the
// initial stop-loss.
func (p Position) RiskUnit() float64 {
	return math.Abs(p.EntryPrice - p.InitialStopLoss)
}

// RMultipleAt converts a price into a signed R-multiple relative to entry.
// Positive values are in the trade's favor for either direction.
func (p Position) RMultipleAt(price float64) float64 {
	risk := p.RiskUnit()
	if risk == 0 {
		return 0
	}
	if p.Direction == DirectionSell {
		return (p.EntryPrice - price) / risk
	}
	return (price - p.EntryPrice) / risk
}

// IsOpen reports whether the position is still eligible for evaluation.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen && p.Phase != PhaseClosed
}

// ObservePrice folds a new tick into the running excursion extrema and
// returns the updated position. It never shrinks either extremum.
func (p Position) ObservePrice(price float64) Position {
	r := p.RMultipleAt(price)
	if r > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = r
	}
	if -r > p.MaxAdverseExcursion {
		p.MaxAdverseExcursion = -r
	}
	return p
}

// StopTightens reports whether moving the stop-loss to candidate reduces risk
// relative to the current stop. Stops only ever tighten: non-decreasing for
// BUY, non-increasing for SELL.
func (p Position) StopTightens(candidate float64) bool {
	if p.Direction == DirectionSell {
		return candidate < p.CurrentStopLoss
	}
	return candidate > p.CurrentStopLoss
}

// Validate checks the creation-time constraints: finite positive prices, a
// non-zero-width stop on the correct side of entry, and take-profit levels
// strictly ordered away from entry in the trade's direction. Positions that
// fail validation never enter the state machine.
func (p Position) Validate() error {
	for name, v := range map[string]float64{
		"entry_price":   p.EntryPrice,
		"stop_loss":     p.InitialStopLoss,
		"take_profit_1": p.TakeProfit1,
		"take_profit_2": p.TakeProfit2,
		"take_profit_3": p.TakeProfit3,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s must be a finite positive number, got %v", ErrInvalidPosition, name, v)
		}
	}

	if p.Direction != DirectionBuy && p.Direction != DirectionSell {
		return fmt.Errorf("%w: direction must be BUY or SELL, got %q", ErrInvalidPosition, p.Direction)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidPosition)
	}
	if p.RiskUnit() == 0 {
		return fmt.Errorf("%w: zero-width stop (entry %.5f == stop %.5f)", ErrInvalidPosition, p.EntryPrice, p.InitialStopLoss)
	}

	switch p.Direction {
	case DirectionBuy:
		if p.InitialStopLoss >= p.EntryPrice {
			return fmt.Errorf("%w: BUY stop-loss %.5f must be below entry %.5f", ErrInvalidPosition, p.InitialStopLoss, p.EntryPrice)
		}
		if !(p.EntryPrice < p.TakeProfit1 && p.TakeProfit1 < p.TakeProfit2 && p.TakeProfit2 < p.TakeProfit3) {
			return fmt.Errorf("%w: BUY take-profits must be strictly ascending above entry (%.5f < %.5f < %.5f < %.5f)",
				ErrInvalidPosition, p.EntryPrice, p.TakeProfit1, p.TakeProfit2, p.TakeProfit3)
		}
	case DirectionSell:
		if p.InitialStopLoss <= p.EntryPrice {
			return fmt.Errorf("%w: SELL stop-loss %.5f must be above entry %.5f", ErrInvalidPosition, p.InitialStopLoss, p.EntryPrice)
		}
		if !(p.EntryPrice > p.TakeProfit1 && p.TakeProfit1 > p.TakeProfit2 && p.TakeProfit2 > p.TakeProfit3) {
			return fmt.Errorf("%w: SELL take-profits must be strictly descending below entry (%.5f > %.5f > %.5f > %.5f)",
				ErrInvalidPosition, p.EntryPrice, p.TakeProfit1, p.TakeProfit2, p.TakeProfit3)
		}
	}

	return nil
}
