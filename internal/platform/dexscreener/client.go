// Package dexscreener implements the rich market-data feed consumed by the
// slow exit monitor.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

const defaultBaseURL = "https://api.dexscreener.com"

// Client is a Dexscreener HTTP client.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client. An empty baseURL selects the public endpoint.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// pairResponse mirrors the fields of the pairs payload we consume.
type pairResponse struct {
	Pairs []struct {
		PriceUSD  string  `json:"priceUsd"`
		MarketCap float64 `json:"marketCap"`
		FDV       float64 `json:"fdv"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			M5  float64 `json:"m5"`
			H1  float64 `json:"h1"`
			H24 float64 `json:"h24"`
		} `json:"volume"`
		Txns struct {
			M5 struct {
				Buys  int `json:"buys"`
				Sells int `json:"sells"`
			} `json:"m5"`
		} `json:"txns"`
		PriceChange struct {
			M5 float64 `json:"m5"`
			H1 float64 `json:"h1"`
		} `json:"priceChange"`
	} `json:"pairs"`
}

// TokenData returns current market data for the given mint. The most liquid
// pair wins when the token trades in several pools.
func (c *Client) TokenData(ctx context.Context, mint string) (domain.MarketData, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("dexscreener: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("dexscreener: token %s: %w", mint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.MarketData{}, fmt.Errorf("dexscreener: token %s: status %d: %s", mint, resp.StatusCode, string(body))
	}

	var parsed pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.MarketData{}, fmt.Errorf("dexscreener: decode token %s: %w", mint, err)
	}
	if len(parsed.Pairs) == 0 {
		return domain.MarketData{}, fmt.Errorf("dexscreener: token %s: %w", mint, domain.ErrFeedUnavailable)
	}

	best := parsed.Pairs[0]
	for _, p := range parsed.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 {
		return domain.MarketData{}, fmt.Errorf("dexscreener: token %s: bad price %q: %w", mint, best.PriceUSD, domain.ErrFeedUnavailable)
	}

	mc := best.MarketCap
	if mc == 0 {
		mc = best.FDV
	}

	return domain.MarketData{
		TokenMint:     mint,
		PriceUSD:      price,
		MarketCap:     mc,
		LiquidityUSD:  best.Liquidity.USD,
		Volume5m:      best.Volume.M5,
		Volume1h:      best.Volume.H1,
		Volume24h:     best.Volume.H24,
		Buys5m:        best.Txns.M5.Buys,
		Sells5m:       best.Txns.M5.Sells,
		PriceChange5m: best.PriceChange.M5,
		PriceChange1h: best.PriceChange.H1,
		RetrievedAt:   time.Now().UTC(),
	}, nil
}

var _ domain.MarketDataFeed = (*Client)(nil)
