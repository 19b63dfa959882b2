package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSBaseURL = "wss://stream.binance.com:9443/ws"

	// readWait bounds how long a silent connection is tolerated. Binance
	// miniTicker emits every second, so anything past this is a dead peer.
	readWait = 30 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	// healthyConnTime is how long a connection must live before the
	// reconnect backoff restarts from the base delay.
	healthyConnTime = time.Minute
)

// Stream keeps the latest miniTicker close price for one symbol in memory.
type Stream struct {
	wsURL  string
	maxAge time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	price   float64
	priceAt time.Time
}

// NewStream creates a Stream for the given symbol. Empty baseURL selects the
// public endpoint; maxAge <= 0 falls back to 30s.
func NewStream(baseURL, symbol string, maxAge time.Duration, logger *slog.Logger) *Stream {
	if baseURL == "" {
		baseURL = defaultWSBaseURL
	}
	if symbol == "" {
		symbol = defaultSymbol
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &Stream{
		wsURL:  fmt.Sprintf("%s/%s@miniTicker", baseURL, strings.ToLower(symbol)),
		maxAge: maxAge,
		logger: logger.With("component", "binance_stream"),
	}
}

// Latest returns the most recent streamed price. ok is false when no sample
// has arrived yet or the last one is older than maxAge.
func (s *Stream) Latest() (price float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.price <= 0 || time.Since(s.priceAt) > s.maxAge {
		return 0, false
	}
	return s.price, true
}

// Run connects and consumes ticker messages until ctx is cancelled,
// reconnecting with exponential backoff on failure.
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		start := time.Now()
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var wait time.Duration
			wait, delay = backoff(delay, time.Since(start))
			s.logger.Warn("stream disconnected, reconnecting", "error", err, "delay", wait)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// backoff returns the delay to wait after a disconnect and the doubled delay
// for the one after that. A connection that lived past healthyConnTime
// restarts the schedule at the base delay.
func backoff(delay, connectedFor time.Duration) (wait, next time.Duration) {
	if connectedFor >= healthyConnTime {
		delay = reconnectDelay
	}
	next = delay * 2
	if next > maxReconnectDelay {
		next = maxReconnectDelay
	}
	return delay, next
}

// consume runs a single connection until it fails or ctx is cancelled.
func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance: connect stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	s.logger.Info("stream connected", "url", s.wsURL)

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance: read stream: %w", err)
		}

		var msg struct {
			Close string `json:"c"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		price, err := strconv.ParseFloat(msg.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		s.mu.Lock()
		s.price = price
		s.priceAt = time.Now()
		s.mu.Unlock()
	}
}
