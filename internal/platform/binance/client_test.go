package binance

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

func TestReferencePriceFromREST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		w.Write([]byte(`{"symbol": "BTCUSDT", "price": "97123.45"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second, nil)
	price, err := c.ReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrice: %v", err)
	}
	if price != 97123.45 {
		t.Errorf("price = %v, want 97123.45", price)
	}
}

func TestReferencePricePrefersFreshStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("REST endpoint should not be hit with a fresh stream sample")
	}))
	defer srv.Close()

	stream := NewStream("", "", 30*time.Second, slog.New(slog.DiscardHandler))
	stream.mu.Lock()
	stream.price = 96000
	stream.priceAt = time.Now()
	stream.mu.Unlock()

	c := New(srv.URL, "", 5*time.Second, stream)
	price, err := c.ReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrice: %v", err)
	}
	if price != 96000 {
		t.Errorf("price = %v, want the stream's 96000", price)
	}
}

func TestReferencePriceFallsBackOnStaleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "95000"}`))
	}))
	defer srv.Close()

	stream := NewStream("", "", 30*time.Second, slog.New(slog.DiscardHandler))
	stream.mu.Lock()
	stream.price = 96000
	stream.priceAt = time.Now().Add(-time.Minute)
	stream.mu.Unlock()

	c := New(srv.URL, "", 5*time.Second, stream)
	price, err := c.ReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrice: %v", err)
	}
	if price != 95000 {
		t.Errorf("price = %v, want the REST fallback 95000", price)
	}
}

func TestReferencePriceBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second, nil)
	_, err := c.ReferencePrice(context.Background())
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("err = %v, want ErrFeedUnavailable", err)
	}
}

func TestReferencePriceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second, nil)
	_, err := c.ReferencePrice(context.Background())
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("err = %v, want ErrFeedUnavailable", err)
	}
}

func TestStreamLatestStaleness(t *testing.T) {
	stream := NewStream("", "", 30*time.Second, slog.New(slog.DiscardHandler))

	if _, ok := stream.Latest(); ok {
		t.Error("empty stream should have no sample")
	}

	stream.mu.Lock()
	stream.price = 97000
	stream.priceAt = time.Now()
	stream.mu.Unlock()
	if price, ok := stream.Latest(); !ok || price != 97000 {
		t.Errorf("Latest = %v/%v, want fresh 97000", price, ok)
	}

	stream.mu.Lock()
	stream.priceAt = time.Now().Add(-31 * time.Second)
	stream.mu.Unlock()
	if _, ok := stream.Latest(); ok {
		t.Error("sample older than max age should read stale")
	}
}

func TestStreamBackoffDoublesOnQuickFailures(t *testing.T) {
	delay := reconnectDelay
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second}

	for i, w := range want {
		var wait time.Duration
		wait, delay = backoff(delay, 100*time.Millisecond)
		if wait != w {
			t.Fatalf("failure %d: wait = %s, want %s", i+1, wait, w)
		}
	}
}

func TestStreamBackoffResetsAfterHealthyRun(t *testing.T) {
	delay := reconnectDelay
	for i := 0; i < 6; i++ {
		_, delay = backoff(delay, time.Second)
	}

	wait, next := backoff(delay, 2*time.Hour)
	if wait != reconnectDelay {
		t.Errorf("wait after healthy run = %s, want base %s", wait, reconnectDelay)
	}
	if next != 2*reconnectDelay {
		t.Errorf("next = %s, want %s", next, 2*reconnectDelay)
	}
}
