package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantship/tradelife/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// quote lives at key "price:{symbol}" with fields "price" and "ts" (Unix
// nanoseconds). Quotes older than maxAge are treated as absent so the monitor
// never evaluates against a dead feed.
type PriceCache struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. maxAge <= 0
// disables staleness filtering.
func NewPriceCache(c *Client, maxAge time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), maxAge: maxAge}
}

var _ domain.PriceCache = (*PriceCache)(nil)

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest quote for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest quote for a symbol. It returns
// domain.ErrNotFound when no quote exists and domain.ErrStalePrice when the
// stored quote is older than the configured maximum age.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}

	price, ts, err := parseQuote(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", symbol, err)
	}
	if pc.stale(ts) {
		return 0, time.Time{}, fmt.Errorf("redis: price %s from %s: %w", symbol, ts.Format(time.RFC3339), domain.ErrStalePrice)
	}
	return price, ts, nil
}

// GetPrices retrieves quotes for multiple symbols with one pipeline. Symbols
// with no quote, an unparsable quote, or a stale quote are omitted from the
// result map.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, ts, err := parseQuote(vals)
		if err != nil || pc.stale(ts) {
			continue
		}
		result[sym] = price
	}
	return result, nil
}

func (pc *PriceCache) stale(ts time.Time) bool {
	return pc.maxAge > 0 && time.Since(ts) > pc.maxAge
}

func parseQuote(vals map[string]string) (float64, time.Time, error) {
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano), nil
}
