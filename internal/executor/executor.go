// Package executor turns an exit decision into a confirmed transaction and
// updated ledger state. It owns the quote -> build -> sign -> broadcast ->
// confirm path; on any failure the position is left active and untouched so
// the next monitor cycle retries it.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/dmarkhas/solsentry/internal/cooldown"
	"github.com/dmarkhas/solsentry/internal/domain"
	"github.com/dmarkhas/solsentry/internal/ledger"
	"github.com/dmarkhas/solsentry/internal/metrics"
)

// Config holds the executor's slippage tuning.
type Config struct {
	// BaseSlippageBps is the starting slippage tolerance.
	BaseSlippageBps int
	// MaxSlippageBps caps the computed tolerance.
	MaxSlippageBps int
}

// Defaults returns the standard slippage tuning: 1% base, 8% cap.
func Defaults() Config {
	return Config{BaseSlippageBps: 100, MaxSlippageBps: 800}
}

// SellExecutor executes sells against the swap service and applies the
// resulting ledger and cooldown side effects.
type SellExecutor struct {
	ledger   *ledger.Ledger
	cooldown *cooldown.Register
	swap     domain.SwapService
	submit   domain.TxSubmitter
	events   domain.EventSink // may be nil
	metrics  *metrics.Metrics // may be nil
	owner    string           // wallet public key, base58
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a SellExecutor. owner is the selling wallet's public key.
func New(
	l *ledger.Ledger,
	cd *cooldown.Register,
	swap domain.SwapService,
	submit domain.TxSubmitter,
	events domain.EventSink,
	m *metrics.Metrics,
	owner string,
	cfg Config,
	logger *slog.Logger,
) *SellExecutor {
	return &SellExecutor{
		ledger:   l,
		cooldown: cd,
		swap:     swap,
		submit:   submit,
		events:   events,
		metrics:  m,
		owner:    owner,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "sell_executor")),
		inflight: make(map[string]bool),
	}
}

// Sell sells percent of the trade's held quantity for the given reason. It is
// safe to call concurrently for the same trade from both monitors: a trade
// already being sold, or already closed, is claimed by exactly one caller and
// the others return domain.ErrAlreadyClosed without touching the market.
func (e *SellExecutor) Sell(ctx context.Context, trade domain.Trade, md domain.MarketData, percent float64, reason domain.ExitReason) error {
	log := e.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("token", trade.TokenSymbol),
		slog.String("reason", string(reason)),
		slog.Float64("percent", percent),
	)

	if !e.claim(trade.ID) {
		return fmt.Errorf("executor: sell %s: %w", trade.ID, domain.ErrAlreadyClosed)
	}
	defer e.release(trade.ID)

	// Re-read the trade: the other monitor may have closed it between the
	// caller's evaluation and our claim.
	current, err := e.ledger.Get(trade.ID)
	if err != nil {
		return fmt.Errorf("executor: sell %s: %w", trade.ID, err)
	}
	if !current.Active() {
		return fmt.Errorf("executor: sell %s: %w", trade.ID, domain.ErrAlreadyClosed)
	}

	quantity := current.TokenQuantity * percent / 100
	slippageBps := e.slippageBps(quantity, md)

	quote, err := e.swap.SellQuote(ctx, current.TokenMint, quantity, slippageBps)
	if err != nil {
		e.metrics.IncSellFailure()
		return fmt.Errorf("executor: quote %s: %w", current.TokenSymbol, err)
	}
	tx, err := e.swap.SellTransaction(ctx, quote, e.owner)
	if err != nil {
		e.metrics.IncSellFailure()
		return fmt.Errorf("executor: build tx %s: %w", current.TokenSymbol, err)
	}
	ref, err := e.submit.Submit(ctx, tx)
	if err != nil {
		e.metrics.IncSellFailure()
		return fmt.Errorf("executor: submit %s: %w", current.TokenSymbol, err)
	}

	if percent < 100 {
		return e.partialExit(ctx, current, md, quantity, percent, ref, log)
	}
	return e.fullExit(ctx, current, md, ref, reason, log)
}

// partialExit reduces the held quantity and marks the one allowed partial
// exit as used. Lifecycle status and aggregate stats are untouched.
func (e *SellExecutor) partialExit(ctx context.Context, t domain.Trade, md domain.MarketData, quantity, percent float64, ref string, log *slog.Logger) error {
	updated, err := e.ledger.Update(ctx, t.ID, func(tr *domain.Trade) {
		tr.TokenQuantity -= quantity
		if tr.TokenQuantity < 0 {
			tr.TokenQuantity = 0
		}
		tr.PartialExitDone = true
	})
	if err != nil {
		return fmt.Errorf("executor: record partial exit %s: %w", t.ID, err)
	}

	e.metrics.IncExit(string(domain.ExitReasonScalpTarget))
	log.InfoContext(ctx, "partial exit executed",
		slog.String("tx_ref", ref),
		slog.Float64("sold_quantity", quantity),
		slog.Float64("remaining_quantity", updated.TokenQuantity),
	)
	e.notify(ctx, domain.Event{
		Type:  domain.EventPartialExit,
		Title: fmt.Sprintf("Partial exit %s", t.TokenSymbol),
		Message: fmt.Sprintf("sold %.0f%% at %.8f (P&L %+.1f%%), tx %s",
			percent, md.PriceUSD, t.UnrealizedPnLPercent(md.PriceUSD), ref),
	})
	return nil
}

// fullExit closes the trade and applies cooldown and notification side
// effects. Cooldowns are recorded for the stop-loss and guard-tightened
// paths, and for a RED force-close only when it realized a loss; a RED close
// in profit leaves no cooldown footprint.
func (e *SellExecutor) fullExit(ctx context.Context, t domain.Trade, md domain.MarketData, ref string, reason domain.ExitReason, log *slog.Logger) error {
	closed, err := e.ledger.Close(ctx, t.ID, md.PriceUSD, ref, reason)
	if err != nil {
		return fmt.Errorf("executor: close %s: %w", t.ID, err)
	}

	recordCooldown := reason == domain.ExitReasonStopLoss || reason == domain.ExitReasonGuardOrange ||
		(reason == domain.ExitReasonGuardRed && closed.PnLPercent < 0)
	if recordCooldown {
		e.cooldown.RecordStopLoss(ctx, closed.TokenMint)
	}

	e.metrics.IncExit(string(reason))
	log.InfoContext(ctx, "position closed",
		slog.String("tx_ref", ref),
		slog.Float64("pnl_percent", closed.PnLPercent),
		slog.Float64("pnl_sol", closed.PnLSOL),
	)

	evtType := domain.EventPositionClosed
	if reason == domain.ExitReasonStopLoss || reason == domain.ExitReasonGuardOrange {
		evtType = domain.EventStopLoss
	}
	e.notify(ctx, domain.Event{
		Type:  evtType,
		Title: fmt.Sprintf("Closed %s (%s)", closed.TokenSymbol, reason),
		Message: fmt.Sprintf("exit %.8f, P&L %+.1f%% (%+.4f SOL), tx %s",
			md.PriceUSD, closed.PnLPercent, closed.PnLSOL, ref),
	})
	return nil
}

// slippageBps widens the tolerance for trades that are large relative to the
// pool and for tokens moving fast right now. Missing liquidity data (the fast
// monitor's synthesized records) lands in the widest bucket.
func (e *SellExecutor) slippageBps(quantity float64, md domain.MarketData) int {
	bps := e.cfg.BaseSlippageBps

	tradeValueUSD := quantity * md.PriceUSD
	liqRatio := 1.0 // no liquidity data: assume the trade dominates the pool
	if md.LiquidityUSD > 0 {
		liqRatio = tradeValueUSD / md.LiquidityUSD
	}
	switch {
	case liqRatio > 0.05:
		bps += 300
	case liqRatio > 0.01:
		bps += 100
	}

	vol := math.Abs(md.PriceChange5m)
	switch {
	case vol > 10:
		bps += 200
	case vol > 5:
		bps += 100
	}

	if bps > e.cfg.MaxSlippageBps {
		bps = e.cfg.MaxSlippageBps
	}
	return bps
}

func (e *SellExecutor) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[id] {
		return false
	}
	e.inflight[id] = true
	return true
}

func (e *SellExecutor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

func (e *SellExecutor) notify(ctx context.Context, evt domain.Event) {
	if e.events == nil {
		return
	}
	e.events.Notify(ctx, evt)
}
