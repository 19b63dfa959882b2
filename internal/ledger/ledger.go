// Package ledger owns the durable record of every trade and the aggregate
// realized P&L counters. It is the only writer of the trades and stats
// documents: every mutation is serialized under one mutex and persisted
// synchronously before the call returns, so concurrent monitors always
// observe a consistent view, even across a crash.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Config holds the ledger's tunable parameters.
type Config struct {
	// DailyLossLimitSOL is the realized daily loss at which new entries are
	// blocked by the strategy layer. Zero disables the limit.
	DailyLossLimitSOL float64
}

// Ledger is the in-memory authority for trades and aggregate stats, backed by
// two persisted documents.
type Ledger struct {
	trades  domain.DocStore
	stats   domain.DocStore
	history domain.HistoryStore // optional, may be nil
	events  domain.EventSink    // optional, may be nil
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	items []domain.Trade
	index map[string]int
	agg   domain.AggregateStats
}

// New creates a Ledger and loads both persisted documents. Trades left active
// by a crash are recovered as-is and picked up on the next monitor cycle.
func New(trades, stats domain.DocStore, history domain.HistoryStore, events domain.EventSink, cfg Config, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		trades:  trades,
		stats:   stats,
		history: history,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
		index:   make(map[string]int),
	}

	if err := trades.Load(&l.items); err != nil {
		return nil, fmt.Errorf("ledger: load trades: %w", err)
	}
	if err := stats.Load(&l.agg); err != nil {
		return nil, fmt.Errorf("ledger: load stats: %w", err)
	}
	for i := range l.items {
		l.index[l.items[i].ID] = i
	}

	l.logger.Info("ledger loaded",
		slog.Int("trades", len(l.items)),
		slog.Int("active", len(l.activeLocked())),
	)
	return l, nil
}

// SetClock overrides the ledger's clock. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Create opens a new trade from the given spec: it assigns the ID, marks the
// trade active, seeds the highest-price ratchet with the entry price, and
// persists before returning.
func (l *Ledger) Create(ctx context.Context, spec domain.TradeSpec) (domain.Trade, error) {
	if spec.TokenMint == "" || spec.EntryPrice <= 0 || spec.TokenQuantity <= 0 {
		return domain.Trade{}, fmt.Errorf("ledger: invalid trade spec for %q", spec.TokenSymbol)
	}

	l.mu.Lock()
	t := domain.Trade{
		ID:                uuid.New().String(),
		Strategy:          spec.Strategy,
		TokenMint:         spec.TokenMint,
		TokenSymbol:       spec.TokenSymbol,
		EntryPrice:        spec.EntryPrice,
		EntryMarketCap:    spec.EntryMarketCap,
		SizeSOL:           spec.SizeSOL,
		TokenQuantity:     spec.TokenQuantity,
		InitialQuantity:   spec.TokenQuantity,
		StopLossPercent:   spec.StopLossPercent,
		TargetGainPercent: spec.TargetGainPercent,
		HighestPrice:      spec.EntryPrice,
		Status:            domain.TradeStatusActive,
		EntryTxRef:        spec.EntryTxRef,
		CreatedAt:         l.now(),
	}

	l.items = append(l.items, t)
	l.index[t.ID] = len(l.items) - 1
	l.persistTradesLocked(ctx)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "trade opened",
		slog.String("trade_id", t.ID),
		slog.String("token", t.TokenSymbol),
		slog.String("strategy", string(t.Strategy)),
		slog.Float64("entry_price", t.EntryPrice),
		slog.Float64("size_sol", t.SizeSOL),
	)
	if l.events != nil {
		l.events.Notify(ctx, domain.Event{
			Type:  domain.EventPositionOpened,
			Title: fmt.Sprintf("Opened %s (%s)", t.TokenSymbol, t.Strategy),
			Message: fmt.Sprintf("entry %.8f, size %.4f SOL, stop -%.0f%%, target +%.0f%%",
				t.EntryPrice, t.SizeSOL, t.StopLossPercent, t.TargetGainPercent),
		})
	}
	return t, nil
}

// Update applies a mutation to the trade with the given id and persists the
// result. It returns domain.ErrNotFound for an unknown id. The highest-price
// ratchet is enforced here: an update can never lower HighestPrice.
func (l *Ledger) Update(ctx context.Context, id string, apply func(*domain.Trade)) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("ledger: update trade %s: %w", id, domain.ErrNotFound)
	}

	prevHigh := l.items[i].HighestPrice
	apply(&l.items[i])
	if l.items[i].HighestPrice < prevHigh {
		l.items[i].HighestPrice = prevHigh
	}

	l.persistTradesLocked(ctx)
	return l.items[i], nil
}

// Close finalizes a trade at the given exit price: it computes realized P&L
// on the still-held fraction, transitions the status (completed or stopped
// based on reason), updates the aggregate counters, and persists both
// documents. The status check and transition happen under the ledger mutex,
// so of two concurrent callers exactly one closes the trade and the other
// receives domain.ErrAlreadyClosed.
func (l *Ledger) Close(ctx context.Context, id string, exitPrice float64, exitRef string, reason domain.ExitReason) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("ledger: close trade %s: %w", id, domain.ErrNotFound)
	}
	t := &l.items[i]
	if t.Status != domain.TradeStatusActive {
		return domain.Trade{}, fmt.Errorf("ledger: close trade %s: %w", id, domain.ErrAlreadyClosed)
	}

	now := l.now()
	pnlPct := t.UnrealizedPnLPercent(exitPrice)

	// Realized amount covers only the still-held fraction; a prior partial
	// exit already took its share off the table.
	fraction := 1.0
	if t.InitialQuantity > 0 {
		fraction = t.TokenQuantity / t.InitialQuantity
	}
	pnlSOL := t.SizeSOL * fraction * pnlPct / 100

	t.Status = domain.TradeStatusCompleted
	if reason.Stopped() {
		t.Status = domain.TradeStatusStopped
	}
	t.ExitPrice = &exitPrice
	t.ExitTxRef = exitRef
	t.ExitReason = reason
	t.PnLPercent = pnlPct
	t.PnLSOL = pnlSOL
	t.ClosedAt = &now

	l.rollDailyLocked(now)
	l.agg.DailyPnLSOL += pnlSOL
	l.agg.DailyTrades++
	l.agg.TotalPnLSOL += pnlSOL
	l.agg.TotalTrades++

	l.persistTradesLocked(ctx)
	l.persistStatsLocked(ctx)

	closed := *t
	if l.history != nil {
		if err := l.history.RecordClosedTrade(ctx, closed); err != nil {
			l.logger.WarnContext(ctx, "trade history archive failed",
				slog.String("trade_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	l.logger.InfoContext(ctx, "trade closed",
		slog.String("trade_id", id),
		slog.String("token", closed.TokenSymbol),
		slog.String("reason", string(reason)),
		slog.String("status", string(closed.Status)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl_percent", pnlPct),
		slog.Float64("pnl_sol", pnlSOL),
	)
	return closed, nil
}

// Get returns the trade with the given id.
func (l *Ledger) Get(id string) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("ledger: get trade %s: %w", id, domain.ErrNotFound)
	}
	return l.items[i], nil
}

// Active returns copies of all active trades.
func (l *Ledger) Active() []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked()
}

// ActiveForToken returns copies of all active trades holding the given mint.
func (l *Ledger) ActiveForToken(mint string) []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Trade
	for i := range l.items {
		if l.items[i].Active() && l.items[i].TokenMint == mint {
			out = append(out, l.items[i])
		}
	}
	return out
}

// HasActive reports whether an active trade exists for the (mint, strategy)
// pair. Strategy scanners use it to avoid doubling up.
func (l *Ledger) HasActive(mint string, strategy domain.Strategy) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].Active() && l.items[i].TokenMint == mint && l.items[i].Strategy == strategy {
			return true
		}
	}
	return false
}

// Stats returns a copy of the aggregate counters with the daily boundary
// applied as of now.
func (l *Ledger) Stats() domain.AggregateStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDailyLocked(l.now())
	return l.agg
}

// DailyLossLimitBreached reports whether today's realized loss has reached
// the configured limit. Always false when no limit is configured.
func (l *Ledger) DailyLossLimitBreached() bool {
	if l.cfg.DailyLossLimitSOL <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDailyLocked(l.now())
	return l.agg.DailyPnLSOL <= -l.cfg.DailyLossLimitSOL
}

func (l *Ledger) activeLocked() []domain.Trade {
	var out []domain.Trade
	for i := range l.items {
		if l.items[i].Active() {
			out = append(out, l.items[i])
		}
	}
	return out
}

// rollDailyLocked resets the daily counters when the local calendar day has
// rolled over since they were last touched.
func (l *Ledger) rollDailyLocked(now time.Time) {
	today := now.Local().Format("2006-01-02")
	if l.agg.DailyDate == today {
		return
	}
	l.agg.DailyDate = today
	l.agg.DailyPnLSOL = 0
	l.agg.DailyTrades = 0
}

// persistTradesLocked writes the trades document. A persistence failure is
// logged and the in-memory state stays authoritative until the next
// successful write.
func (l *Ledger) persistTradesLocked(ctx context.Context) {
	if err := l.trades.Save(l.items); err != nil {
		l.logger.ErrorContext(ctx, "persist trades failed", slog.String("error", err.Error()))
	}
}

func (l *Ledger) persistStatsLocked(ctx context.Context) {
	if err := l.stats.Save(l.agg); err != nil {
		l.logger.ErrorContext(ctx, "persist stats failed", slog.String("error", err.Error()))
	}
}
