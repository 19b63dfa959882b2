// Package binance provides the BTC reference price used by the market guard.
//
// A websocket stream keeps a hot price in memory; when the stream is stale or
// disabled the REST ticker endpoint is queried instead.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

const (
	defaultRESTBaseURL = "https://api.binance.com"
	defaultSymbol      = "BTCUSDT"
)

// Client fetches spot prices from the Binance REST API.
type Client struct {
	baseURL string
	symbol  string
	client  *http.Client

	stream *Stream
}

// New creates a Client. Empty baseURL and symbol select the public endpoint
// and BTCUSDT. stream may be nil, in which case every call hits REST.
func New(baseURL, symbol string, timeout time.Duration, stream *Stream) *Client {
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}
	if symbol == "" {
		symbol = defaultSymbol
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		symbol:  symbol,
		client:  &http.Client{Timeout: timeout},
		stream:  stream,
	}
}

// ReferencePrice returns the current BTC price in USD, preferring the
// websocket stream when it has a fresh sample.
func (c *Client) ReferencePrice(ctx context.Context) (float64, error) {
	if c.stream != nil {
		if price, ok := c.stream.Latest(); ok {
			return price, nil
		}
	}
	return c.restPrice(ctx)
}

func (c *Client) restPrice(ctx context.Context) (float64, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, c.symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("binance: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker %s: %w", c.symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance: ticker %s: status %d: %w", c.symbol, resp.StatusCode, domain.ErrFeedUnavailable)
	}

	var parsed struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("binance: decode ticker %s: %w", c.symbol, err)
	}

	price, err := strconv.ParseFloat(parsed.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("binance: ticker %s: bad price %q: %w", c.symbol, parsed.Price, domain.ErrFeedUnavailable)
	}
	return price, nil
}

var _ domain.ReferencePriceFeed = (*Client)(nil)
