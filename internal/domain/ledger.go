package domain

import (
	"fmt"
	"math"
	"time"
)

// TradeOutcome classifies a fully resolved trade by the sign of its
// cumulative realized R.
type TradeOutcome string

const (
	OutcomeWin       TradeOutcome = "win"
	OutcomeLoss      TradeOutcome = "loss"
	OutcomeBreakeven TradeOutcome = "breakeven"
)

// BreakevenPolicy controls how a breakeven final close affects the
// consecutive-loss counter. The source behavior suggests breakevens leave
// the counter untouched, but this is surfaced as configuration pending
// product confirmation.
type BreakevenPolicy string

const (
	BreakevenIgnores BreakevenPolicy = "ignore"
	BreakevenResets  BreakevenPolicy = "reset"
)

// RiskPolicy holds the tunable parameters of the daily circuit breaker.
type RiskPolicy struct {
	// ConsecutiveLossLimit pauses signal issuance once this many losing
	// trades close back to back within a day.
	ConsecutiveLossLimit int
	// BreakevenEpsilonR is the band of cumulative R (in absolute value)
	// within which a resolved trade counts as breakeven rather than a
	// win or loss.
	BreakevenEpsilonR float64
	// Breakeven selects whether breakeven closes reset the loss streak.
	Breakeven BreakevenPolicy
}

// Classify buckets a trade's cumulative realized R into an outcome.
func (rp RiskPolicy) Classify(cumulativeR float64) TradeOutcome {
	if math.Abs(cumulativeR) <= rp.BreakevenEpsilonR {
		return OutcomeBreakeven
	}
	if cumulativeR > 0 {
		return OutcomeWin
	}
	return OutcomeLoss
}

// DailyRiskLedger is the per-calendar-day aggregate across all signals.
// The engine is its sole writer; dashboards and the signal issuer read it.
type DailyRiskLedger struct {
	Day time.Time `json:"date"` // key, truncated to UTC midnight

	TotalTrades     int `json:"total_trades"`
	WinningTrades   int `json:"winning_trades"`
	LosingTrades    int `json:"losing_trades"`
	BreakevenTrades int `json:"breakeven_trades"`

	// TotalR is the running sum of realized R across all closes of the
	// day, partial and final.
	TotalR float64 `json:"total_r_multiple"`

	ConsecutiveLosses int `json:"consecutive_losses"`

	BotPaused   bool   `json:"bot_paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CloseResult is what a single lifecycle close contributes to the ledger.
type CloseResult struct {
	// RealizedR is the R-multiple realized by this close alone.
	RealizedR float64
	// Final marks the close that takes the position to CLOSED.
	Final bool
	// CumulativeR is the trade's total realized R including this close,
	// used to classify the outcome on final closes.
	CumulativeR float64
}

// ApplyClose folds one close into the ledger and evaluates the pause
// condition. Every close moves TotalR; only final closes touch the trade
// counters and the loss streak. Once BotPaused is set it stays set until an
// operator clears it explicitly.
func (l DailyRiskLedger) ApplyClose(c CloseResult, policy RiskPolicy) DailyRiskLedger {
	l.TotalR += c.RealizedR
	if !c.Final {
		return l
	}

	l.TotalTrades++
	switch policy.Classify(c.CumulativeR) {
	case OutcomeWin:
		l.WinningTrades++
		l.ConsecutiveLosses = 0
	case OutcomeLoss:
		l.LosingTrades++
		l.ConsecutiveLosses++
	case OutcomeBreakeven:
		l.BreakevenTrades++
		if policy.Breakeven == BreakevenResets {
			l.ConsecutiveLosses = 0
		}
	}

	if !l.BotPaused && policy.ConsecutiveLossLimit > 0 && l.ConsecutiveLosses >= policy.ConsecutiveLossLimit {
		l.BotPaused = true
		l.PauseReason = fmt.Sprintf("%d consecutive losses on %s", l.ConsecutiveLosses, l.Day.Format("2006-01-02"))
	}

	return l
}

// Day truncates a timestamp to its UTC calendar day, the ledger key.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
