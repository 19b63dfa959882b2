package dexscreener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

const mint = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(srv.URL, 5*time.Second), srv
}

func TestTokenDataPicksMostLiquidPair(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/dex/tokens/"+mint {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"pairs": [
			{"priceUsd": "0.001", "marketCap": 100000, "liquidity": {"usd": 5000}},
			{"priceUsd": "0.0015", "marketCap": 150000, "liquidity": {"usd": 90000},
			 "volume": {"m5": 1200, "h1": 8000, "h24": 90000},
			 "txns": {"m5": {"buys": 30, "sells": 12}},
			 "priceChange": {"m5": 2.5, "h1": -4.0}}
		]}`))
	})
	defer srv.Close()

	md, err := c.TokenData(context.Background(), mint)
	if err != nil {
		t.Fatalf("TokenData: %v", err)
	}
	if md.PriceUSD != 0.0015 {
		t.Errorf("price = %v, want the deeper pair's 0.0015", md.PriceUSD)
	}
	if md.LiquidityUSD != 90000 {
		t.Errorf("liquidity = %v, want 90000", md.LiquidityUSD)
	}
	if md.Buys5m != 30 || md.Sells5m != 12 {
		t.Errorf("txns = %d/%d, want 30/12", md.Buys5m, md.Sells5m)
	}
	if md.PriceChange5m != 2.5 || md.PriceChange1h != -4.0 {
		t.Errorf("price change = %v/%v", md.PriceChange5m, md.PriceChange1h)
	}
	if md.TokenMint != mint {
		t.Errorf("mint = %s", md.TokenMint)
	}
}

func TestTokenDataFallsBackToFDV(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": [{"priceUsd": "0.002", "fdv": 200000, "liquidity": {"usd": 1000}}]}`))
	})
	defer srv.Close()

	md, err := c.TokenData(context.Background(), mint)
	if err != nil {
		t.Fatalf("TokenData: %v", err)
	}
	if md.MarketCap != 200000 {
		t.Errorf("market cap = %v, want FDV fallback 200000", md.MarketCap)
	}
}

func TestTokenDataNoPairs(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	})
	defer srv.Close()

	_, err := c.TokenData(context.Background(), mint)
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("err = %v, want ErrFeedUnavailable", err)
	}
}

func TestTokenDataBadPrice(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": [{"priceUsd": "", "liquidity": {"usd": 1000}}]}`))
	})
	defer srv.Close()

	_, err := c.TokenData(context.Background(), mint)
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("err = %v, want ErrFeedUnavailable", err)
	}
}

func TestTokenDataServerError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	defer srv.Close()

	if _, err := c.TokenData(context.Background(), mint); err == nil {
		t.Error("expected error on non-200 response")
	}
}
