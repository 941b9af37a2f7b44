package domain

import "time"

// EventType enumerates the lifecycle events a position can emit. Handling
// code switches exhaustively over these values.
type EventType string

const (
	EventActivated       EventType = "ACTIVATED"
	EventTP1Hit          EventType = "TP1_HIT"
	EventTP2Hit          EventType = "TP2_HIT"
	EventMovedToBreakeven EventType = "MOVED_TO_BREAKEVEN"
	EventTrailingAdjusted EventType = "TRAILING_STOP_ADJUSTED"
	EventStoppedOut      EventType = "STOPPED_OUT"
	EventFinalClose      EventType = "FINAL_CLOSE"
	EventError           EventType = "ERROR"
	EventPauseCleared    EventType = "PAUSE_CLEARED"
)

// TradeEvent is one immutable entry in the append-only lifecycle feed. Each
// event carries enough context (symbol, direction, phase, price) to be
// interpreted without joining back to the position record.
type TradeEvent struct {
	ID        string    `json:"id"`
	SignalID  string    `json:"signal_id"`
	Type      EventType `json:"event_type"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Phase     Phase     `json:"phase"`

	Price float64 `json:"price_at_event"`

	// PnL and RMultiple are set only on events that realize P&L
	// (partial and final closes).
	PnL       *float64 `json:"pnl_realized,omitempty"`
	RMultiple *float64 `json:"r_multiple,omitempty"`

	// StopLoss is the stop in effect after the event, for stop-moving events.
	StopLoss *float64 `json:"stop_loss,omitempty"`

	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
