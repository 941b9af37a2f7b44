package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// HTTPClient pulls quotes from a REST quote endpoint. The endpoint is
// expected to answer GET {base}/quote?symbol=X with {"symbol": ..., "price": ...}.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a pull client for the given quote endpoint.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

var _ domain.PriceSource = (*HTTPClient)(nil)

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// FetchPrice pulls the current quote for one symbol.
func (c *HTTPClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: build quote request for %s: %w", symbol, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: fetch quote for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("oracle: quote for %s: %w", symbol, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: quote for %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, fmt.Errorf("oracle: decode quote for %s: %w", symbol, err)
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("oracle: quote for %s: non-positive price %v", symbol, quote.Price)
	}
	return quote.Price, nil
}
