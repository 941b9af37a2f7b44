package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quantship/tradelife/internal/domain"
)

// Consumer subscribes to the live event channel and turns each committed
// lifecycle event into an operator notification.
type Consumer struct {
	bus      domain.EventBus
	channel  string
	notifier *Notifier
	logger   *slog.Logger
}

func NewConsumer(bus domain.EventBus, channel string, notifier *Notifier, logger *slog.Logger) *Consumer {
	return &Consumer{
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_consumer")),
	}
}

// Run consumes events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.bus.Subscribe(ctx, c.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", c.channel, err)
	}
	c.logger.InfoContext(ctx, "consuming events", slog.String("channel", c.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			var evt domain.TradeEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				c.logger.WarnContext(ctx, "bad event payload", slog.Any("error", err))
				continue
			}
			title, message := render(evt)
			if err := c.notifier.Notify(ctx, evt.Type, title, message); err != nil {
				c.logger.WarnContext(ctx, "notify failed",
					slog.String("event", string(evt.Type)),
					slog.Any("error", err))
			}
		}
	}
}

// render formats one lifecycle event for a chat channel.
func render(evt domain.TradeEvent) (title, message string) {
	head := fmt.Sprintf("%s %s @ %.5f", evt.Symbol, evt.Direction, evt.Price)

	switch evt.Type {
	case domain.EventActivated:
		return "Signal activated", head
	case domain.EventTP1Hit:
		return "TP1 hit", fmt.Sprintf("%s\nrealized %s", head, rText(evt.RMultiple))
	case domain.EventTP2Hit:
		return "TP2 hit", fmt.Sprintf("%s\nrealized %s, stop %s", head, rText(evt.RMultiple), priceText(evt.StopLoss))
	case domain.EventMovedToBreakeven:
		return "Stop moved to breakeven", fmt.Sprintf("%s\nstop %s", head, priceText(evt.StopLoss))
	case domain.EventTrailingAdjusted:
		return "Trailing stop adjusted", fmt.Sprintf("%s\nstop %s", head, priceText(evt.StopLoss))
	case domain.EventStoppedOut:
		return "Stopped out", fmt.Sprintf("%s\nrealized %s", head, rText(evt.RMultiple))
	case domain.EventFinalClose:
		return "Final target reached", fmt.Sprintf("%s\nrealized %s", head, rText(evt.RMultiple))
	case domain.EventError:
		return "Position error", fmt.Sprintf("%s\n%s", head, evt.Reason)
	case domain.EventPauseCleared:
		return "Trading pause cleared", evt.Reason
	default:
		return string(evt.Type), head
	}
}

func rText(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2fR", *r)
}

func priceText(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.5f", *p)
}
