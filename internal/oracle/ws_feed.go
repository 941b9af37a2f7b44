package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantship/tradelife/internal/domain"
)

const (
	wsDialTimeout  = 15 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	reconnectDelay = 2 * time.Second
)

// WSFeed subscribes to a quote websocket for the configured symbols and
// writes every tick into the price cache. It reconnects with backoff on
// disconnect and runs until its context is cancelled.
type WSFeed struct {
	url       string
	symbols   []string
	cache     domain.PriceCache
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed that keeps the cache warm for the given symbols.
func NewWSFeed(url string, symbols []string, cache domain.PriceCache, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:     url,
		symbols: symbols,
		cache:   cache,
		logger:  logger.With(slog.String("component", "ws_feed")),
		done:    make(chan struct{}),
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type tickMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"`
}

// Run connects and pumps ticks into the cache until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("quote ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("oracle: dial %s: %w", f.url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Symbols: f.symbols}); err != nil {
		return fmt.Errorf("oracle: subscribe: %w", err)
	}
	f.logger.Info("quote ws subscribed", slog.Int("symbols", len(f.symbols)))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// Close the connection on cancellation to unblock the read loop, and
	// keep the peer alive with periodic pings.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return fmt.Errorf("oracle: set read deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("oracle: read: %w", err)
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil || tick.Symbol == "" || tick.Price <= 0 {
			continue
		}
		ts := time.Now().UTC()
		if tick.TS > 0 {
			ts = time.UnixMilli(tick.TS).UTC()
		}
		if err := f.cache.SetPrice(ctx, tick.Symbol, tick.Price, ts); err != nil {
			f.logger.WarnContext(ctx, "cache tick failed",
				slog.String("symbol", tick.Symbol),
				slog.Any("error", err))
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
