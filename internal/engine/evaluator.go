package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// TransitionKind tags the outcome of one evaluation.
type TransitionKind string

const (
	TransitionNone    TransitionKind = "none"
	TransitionTP1     TransitionKind = "tp1"
	TransitionTP2     TransitionKind = "tp2"
	TransitionTrail   TransitionKind = "trail"
	TransitionStopOut TransitionKind = "stop_out"
	TransitionTarget  TransitionKind = "final_target"
)

// Transition is the full effect of one evaluation: the post-transition
// position, the lifecycle events to append, and the ledger contribution when
// the transition realizes P&L. TransitionNone still carries the position with
// refreshed excursion extrema.
type Transition struct {
	Kind     TransitionKind
	Position domain.Position
	Events   []domain.TradeEvent
	Close    *domain.CloseResult
}

// Policy holds the tunable lifecycle parameters.
type Policy struct {
	// TP1Fraction and TP2Fraction are the tranche sizes closed at the first
	// two targets, as fractions of the original position. The runner is
	// whatever remains.
	TP1Fraction float64
	TP2Fraction float64
	// TrailDistanceR is how far behind price the runner's stop ratchets,
	// in risk units.
	TrailDistanceR float64
	Risk           domain.RiskPolicy
}

// DefaultPolicy returns equal-thirds tranches with a half-R trail.
func DefaultPolicy() Policy {
	return Policy{
		TP1Fraction:    1.0 / 3.0,
		TP2Fraction:    1.0 / 3.0,
		TrailDistanceR: 0.5,
		Risk: domain.RiskPolicy{
			ConsecutiveLossLimit: 3,
			BreakevenEpsilonR:    0.05,
			Breakeven:            domain.BreakevenIgnores,
		},
	}
}

// Validate checks the policy for usable tranche and trail values.
func (p Policy) Validate() error {
	if p.TP1Fraction <= 0 || p.TP2Fraction <= 0 || p.TP1Fraction+p.TP2Fraction >= 1 {
		return fmt.Errorf("engine: tranche fractions must be positive and sum below 1, got %.3f + %.3f",
			p.TP1Fraction, p.TP2Fraction)
	}
	if p.TrailDistanceR <= 0 {
		return fmt.Errorf("engine: trail distance must be positive, got %v", p.TrailDistanceR)
	}
	if p.Risk.BreakevenEpsilonR < 0 {
		return fmt.Errorf("engine: breakeven epsilon must be non-negative, got %v", p.Risk.BreakevenEpsilonR)
	}
	return nil
}

// Evaluator decides the single next lifecycle transition for a position at a
// given price. It has no side effects; callers persist what it returns.
type Evaluator struct {
	policy Policy
}

func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Evaluate maps (price, position) to the required transition, if any.
// Stop-out wins over any take-profit satisfied by the same tick. A position
// that fails validation is rejected with ErrInvalidPosition so the caller can
// park it in ERROR status.
func (e *Evaluator) Evaluate(pos domain.Position, price float64, now time.Time) (Transition, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Transition{}, fmt.Errorf("engine: price must be a finite positive number, got %v", price)
	}
	if !pos.IsOpen() {
		return Transition{}, fmt.Errorf("engine: position %s: %w", pos.ID, domain.ErrPositionClosed)
	}
	if err := pos.Validate(); err != nil {
		return Transition{}, fmt.Errorf("engine: position %s: %w", pos.ID, err)
	}

	pos = pos.ObservePrice(price)

	if stopCrossed(pos, price) {
		return e.stopOut(pos, price, now), nil
	}

	switch pos.Phase {
	case domain.PhaseActive:
		if targetReached(pos, price, pos.TakeProfit1) {
			return e.takeProfit1(pos, price, now), nil
		}
	case domain.Phase1:
		if targetReached(pos, price, pos.TakeProfit2) {
			return e.takeProfit2(pos, price, now), nil
		}
	case domain.Phase2, domain.Phase3:
		if targetReached(pos, price, pos.TakeProfit3) {
			return e.finalTarget(pos, price, now), nil
		}
		if t, ok := e.trail(pos, price, now); ok {
			return t, nil
		}
	}

	return Transition{Kind: TransitionNone, Position: pos}, nil
}

func stopCrossed(pos domain.Position, price float64) bool {
	if pos.Direction == domain.DirectionSell {
		return price >= pos.CurrentStopLoss
	}
	return price <= pos.CurrentStopLoss
}

func targetReached(pos domain.Position, price, target float64) bool {
	if pos.Direction == domain.DirectionSell {
		return price <= target
	}
	return price >= target
}

// stopOut closes the whole remaining fraction at the stop price. Filling at
// the stop rather than the tick keeps a clean-stop full exit at exactly -1R
// and a breakeven-stop exit at exactly 0R on the remainder.
func (e *Evaluator) stopOut(pos domain.Position, price float64, now time.Time) Transition {
	fraction := pos.RemainingPct / 100
	closeR := pos.RMultipleAt(pos.CurrentStopLoss) * fraction

	pos.RealizedR += closeR
	pos.RemainingPct = 0
	pos.Phase = domain.PhaseClosed
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now

	evt := newEvent(pos, domain.EventStoppedOut, price, now)
	evt.PnL = ptr(closeR)
	evt.RMultiple = ptr(closeR)
	evt.StopLoss = ptr(pos.CurrentStopLoss)
	evt.Reason = fmt.Sprintf("price crossed stop %.5f", pos.CurrentStopLoss)

	return Transition{
		Kind:     TransitionStopOut,
		Position: pos,
		Events:   []domain.TradeEvent{evt},
		Close:    &domain.CloseResult{RealizedR: closeR, Final: true, CumulativeR: pos.RealizedR},
	}
}

// takeProfit1 closes the first tranche at TP1 and moves the stop to entry so
// the remainder can no longer produce a net loss.
func (e *Evaluator) takeProfit1(pos domain.Position, price float64, now time.Time) Transition {
	closeR := pos.RMultipleAt(pos.TakeProfit1) * e.policy.TP1Fraction

	pos.RealizedR += closeR
	pos.TP1PnL = closeR
	pos.TP1Closed = true
	pos.RemainingPct -= e.policy.TP1Fraction * 100
	pos.CurrentStopLoss = pos.EntryPrice
	pos.Phase = domain.Phase1

	hit := newEvent(pos, domain.EventTP1Hit, price, now)
	hit.PnL = ptr(closeR)
	hit.RMultiple = ptr(closeR)

	moved := newEvent(pos, domain.EventMovedToBreakeven, price, now)
	moved.StopLoss = ptr(pos.CurrentStopLoss)
	moved.Reason = "stop moved to entry after first target"

	return Transition{
		Kind:     TransitionTP1,
		Position: pos,
		Events:   []domain.TradeEvent{hit, moved},
		Close:    &domain.CloseResult{RealizedR: closeR, Final: false, CumulativeR: pos.RealizedR},
	}
}

// takeProfit2 closes the second tranche at TP2 and locks the stop at TP1.
func (e *Evaluator) takeProfit2(pos domain.Position, price float64, now time.Time) Transition {
	closeR := pos.RMultipleAt(pos.TakeProfit2) * e.policy.TP2Fraction

	pos.RealizedR += closeR
	pos.TP2PnL = closeR
	pos.TP2Closed = true
	pos.RemainingPct -= e.policy.TP2Fraction * 100
	pos.CurrentStopLoss = pos.TakeProfit1
	pos.Phase = domain.Phase2

	hit := newEvent(pos, domain.EventTP2Hit, price, now)
	hit.PnL = ptr(closeR)
	hit.RMultiple = ptr(closeR)
	hit.StopLoss = ptr(pos.CurrentStopLoss)
	hit.Reason = "stop locked at first target"

	return Transition{
		Kind:     TransitionTP2,
		Position: pos,
		Events:   []domain.TradeEvent{hit},
		Close:    &domain.CloseResult{RealizedR: closeR, Final: false, CumulativeR: pos.RealizedR},
	}
}

// finalTarget closes the runner at TP3.
func (e *Evaluator) finalTarget(pos domain.Position, price float64, now time.Time) Transition {
	fraction := pos.RemainingPct / 100
	closeR := pos.RMultipleAt(pos.TakeProfit3) * fraction

	pos.RealizedR += closeR
	pos.RemainingPct = 0
	pos.Phase = domain.PhaseClosed
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now

	evt := newEvent(pos, domain.EventFinalClose, price, now)
	evt.PnL = ptr(closeR)
	evt.RMultiple = ptr(closeR)
	evt.Reason = fmt.Sprintf("runner closed at final target %.5f", pos.TakeProfit3)

	return Transition{
		Kind:     TransitionTarget,
		Position: pos,
		Events:   []domain.TradeEvent{evt},
		Close:    &domain.CloseResult{RealizedR: closeR, Final: true, CumulativeR: pos.RealizedR},
	}
}

// trail ratchets the runner's stop behind price by the configured distance.
// The first ratchet advances the phase to PHASE3. Returns false when the
// candidate stop would not tighten.
func (e *Evaluator) trail(pos domain.Position, price float64, now time.Time) (Transition, bool) {
	dist := e.policy.TrailDistanceR * pos.RiskUnit()
	candidate := price - dist
	if pos.Direction == domain.DirectionSell {
		candidate = price + dist
	}
	if !pos.StopTightens(candidate) {
		return Transition{}, false
	}

	pos.CurrentStopLoss = candidate
	pos.Phase = domain.Phase3

	evt := newEvent(pos, domain.EventTrailingAdjusted, price, now)
	evt.StopLoss = ptr(candidate)

	return Transition{
		Kind:     TransitionTrail,
		Position: pos,
		Events:   []domain.TradeEvent{evt},
	}, true
}

// newEvent builds an event snapshot of the post-transition position. The ID
// is assigned at persistence time.
func newEvent(pos domain.Position, typ domain.EventType, price float64, now time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		SignalID:  pos.ID,
		Type:      typ,
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Phase:     pos.Phase,
		Price:     price,
		CreatedAt: now,
	}
}

func ptr(v float64) *float64 { return &v }
