// Package jupiter implements batch pricing and sell-route quoting through the
// Jupiter aggregator API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

const (
	defaultBaseURL = "https://lite-api.jup.ag"

	// All sells route into wrapped SOL.
	wrappedSOLMint = "So11111111111111111111111111111111111111112"
)

// Client is a Jupiter HTTP client.
type Client struct {
	baseURL string
	client  *http.Client

	// tokenDecimals converts UI token quantities into raw amounts for the
	// quote endpoint. Pump-style tokens use 6 decimals.
	tokenDecimals int
}

// New creates a Client. An empty baseURL selects the public lite endpoint,
// decimals <= 0 falls back to 6.
func New(baseURL string, timeout time.Duration, decimals int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if decimals <= 0 {
		decimals = 6
	}
	return &Client{
		baseURL:       baseURL,
		client:        &http.Client{Timeout: timeout},
		tokenDecimals: decimals,
	}
}

// Prices returns USD prices for the given mints in a single request. Mints
// unknown to the aggregator are absent from the result.
func (c *Client) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	u := fmt.Sprintf("%s/price/v2?ids=%s", c.baseURL, url.QueryEscape(strings.Join(mints, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter: price: status %d", resp.StatusCode)
	}

	var parsed struct {
		Data map[string]*struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("jupiter: decode price: %w", err)
	}

	out := make(map[string]float64, len(parsed.Data))
	for mint, entry := range parsed.Data {
		if entry == nil {
			continue
		}
		p, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		out[mint] = p
	}
	return out, nil
}

// SellQuote requests a route selling quantity of mint into SOL.
func (c *Client) SellQuote(ctx context.Context, mint string, quantity float64, slippageBps int) (domain.SwapQuote, error) {
	raw := uint64(math.Floor(quantity * math.Pow10(c.tokenDecimals)))
	if raw == 0 {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: zero amount: %w", mint, domain.ErrNoRoute)
	}

	q := url.Values{}
	q.Set("inputMint", mint)
	q.Set("outputMint", wrappedSOLMint)
	q.Set("amount", strconv.FormatUint(raw, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	u := fmt.Sprintf("%s/swap/v1/quote?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: create quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: %w", mint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: read quote %s: %w", mint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: status %d: %w", mint, resp.StatusCode, domain.ErrNoRoute)
	}

	var parsed struct {
		InAmount  string `json:"inAmount"`
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: decode quote %s: %w", mint, err)
	}

	inAmount, _ := strconv.ParseUint(parsed.InAmount, 10, 64)
	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil || outAmount == 0 {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: empty route: %w", mint, domain.ErrNoRoute)
	}

	return domain.SwapQuote{
		InputMint:   mint,
		OutputMint:  wrappedSOLMint,
		InAmount:    inAmount,
		OutAmount:   outAmount,
		SlippageBps: slippageBps,
		RawResponse: body,
	}, nil
}

// SellTransaction builds an unsigned swap transaction for the quote.
func (c *Client) SellTransaction(ctx context.Context, quote domain.SwapQuote, owner string) (domain.UnsignedTx, error) {
	payload := map[string]any{
		"quoteResponse":             json.RawMessage(quote.RawResponse),
		"userPublicKey":             owner,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: encode swap request: %w", err)
	}

	u := fmt.Sprintf("%s/swap/v1/swap", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: swap %s: %w", quote.InputMint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: swap %s: status %d: %s", quote.InputMint, resp.StatusCode, string(raw))
	}

	var parsed struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: decode swap %s: %w", quote.InputMint, err)
	}
	if parsed.SwapTransaction == "" {
		return domain.UnsignedTx{}, fmt.Errorf("jupiter: swap %s: empty transaction", quote.InputMint)
	}

	return domain.UnsignedTx{Base64: parsed.SwapTransaction}, nil
}

var (
	_ domain.PriceFeed   = (*Client)(nil)
	_ domain.SwapService = (*Client)(nil)
)
