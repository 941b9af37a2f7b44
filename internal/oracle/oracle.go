// Package oracle supplies current prices per symbol: a websocket feed keeps
// the cache warm, and a pull client covers symbols the feed misses.
package oracle

import (
	"context"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// Oracle is the composite price source the monitor queries. It reads the
// cache first and falls back to a direct pull; pulled quotes are written back
// so the next cycle hits the cache.
type Oracle struct {
	cache domain.PriceCache
	pull  domain.PriceSource
}

// New builds an Oracle. Either collaborator may be nil; the other is used
// alone.
func New(cache domain.PriceCache, pull domain.PriceSource) *Oracle {
	return &Oracle{cache: cache, pull: pull}
}

var _ domain.PriceSource = (*Oracle)(nil)

// FetchPrice resolves one symbol's current price.
func (o *Oracle) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	if o.cache != nil {
		if price, _, err := o.cache.GetPrice(ctx, symbol); err == nil {
			return price, nil
		}
	}
	if o.pull == nil {
		return 0, domain.ErrNotFound
	}

	price, err := o.pull.FetchPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if o.cache != nil {
		_ = o.cache.SetPrice(ctx, symbol, price, time.Now().UTC())
	}
	return price, nil
}
