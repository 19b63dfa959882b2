package domain

import (
	"context"
	"time"
)

// DocStore persists one JSON document wholesale. Each durable resource owns
// exactly one document: Load fills v at construction time (leaving it zero
// when no document exists yet) and Save rewrites the document in full. A
// crash between mutations loses at most the latest update, never corrupts
// older state.
type DocStore interface {
	Load(v any) error
	Save(v any) error
}

// MarketDataFeed returns rich per-token market data for the slow monitor.
type MarketDataFeed interface {
	TokenData(ctx context.Context, mint string) (MarketData, error)
}

// PriceFeed returns current USD prices for a batch of tokens. Tokens the
// upstream does not know are omitted from the result map.
type PriceFeed interface {
	Prices(ctx context.Context, mints []string) (map[string]float64, error)
}

// ReferencePriceFeed returns the current USD price of the macro reference
// asset (BTC) consumed by the market guard.
type ReferencePriceFeed interface {
	ReferencePrice(ctx context.Context) (float64, error)
}

// SwapQuote is a sell-side route returned by the swap service. RawResponse
// carries the provider's quote payload verbatim for the transaction build.
type SwapQuote struct {
	InputMint   string
	OutputMint  string
	InAmount    uint64
	OutAmount   uint64
	SlippageBps int
	RawResponse []byte
}

// UnsignedTx is a serialized, unsigned transaction produced by the swap
// service, ready for signing and broadcast.
type UnsignedTx struct {
	Base64 string
}

// SwapService quotes a sell and builds the corresponding transaction.
type SwapService interface {
	SellQuote(ctx context.Context, mint string, quantity float64, slippageBps int) (SwapQuote, error)
	SellTransaction(ctx context.Context, quote SwapQuote, owner string) (UnsignedTx, error)
}

// TxSubmitter signs, broadcasts and confirms a transaction, returning a
// reference usable for auditing. Implementations retry transient submission
// failures internally before surfacing an error.
type TxSubmitter interface {
	Submit(ctx context.Context, tx UnsignedTx) (string, error)
}

// HistoryStore archives closed trades and guard transitions for offline
// analysis. Archive failures are logged by callers and never affect core
// state.
type HistoryStore interface {
	RecordClosedTrade(ctx context.Context, trade Trade) error
	RecordGuardEvent(ctx context.Context, from, to AlertLevel, reason string, at time.Time) error
}

// EventType classifies notifications.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventStopLoss       EventType = "stop_loss"
	EventPartialExit    EventType = "partial_exit"
	EventGuardAlert     EventType = "guard_alert"
	EventGuardClear     EventType = "guard_clear"
)

// Event is a typed, fire-and-forget notification.
type Event struct {
	Type    EventType
	Title   string
	Message string
}

// EventSink delivers events to operators. Delivery failures must never
// affect core state; implementations log and move on.
type EventSink interface {
	Notify(ctx context.Context, evt Event)
}
