package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
	"github.com/dmarkhas/solsentry/internal/metrics"
)

// FastConfig holds the fast stop-loss monitor's tuning.
type FastConfig struct {
	Interval               time.Duration
	GuardSensitiveStrategy domain.Strategy
}

// DefaultFastConfig returns the standard fast-monitor tuning.
func DefaultFastConfig() FastConfig {
	return FastConfig{
		Interval:               10 * time.Second,
		GuardSensitiveStrategy: domain.StrategyScalp,
	}
}

// FastMonitor is the slow monitor's latency-sensitive companion. It fetches
// one batched price lookup per cycle and evaluates only the guard and
// stop-loss rules, so a breach between slow cycles is caught within seconds.
// No trailing stops, no strategy targets, no partial exits.
type FastMonitor struct {
	ledger  Ledger
	prices  domain.PriceFeed
	seller  Seller
	metrics *metrics.Metrics
	cfg     FastConfig
	logger  *slog.Logger
	rules   []exitRule
	now     func() time.Time
}

// NewFast creates a FastMonitor.
func NewFast(
	l Ledger,
	g GuardReader,
	prices domain.PriceFeed,
	seller Seller,
	m *metrics.Metrics,
	cfg FastConfig,
	logger *slog.Logger,
) *FastMonitor {
	rules := append(guardRules(g, cfg.GuardSensitiveStrategy), stopLossRule())
	return &FastMonitor{
		ledger:  l,
		prices:  prices,
		seller:  seller,
		metrics: m,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "fast_monitor")),
		rules:   rules,
		now:     time.Now,
	}
}

// SetClock overrides the monitor's clock. Intended for tests.
func (f *FastMonitor) SetClock(now func() time.Time) { f.now = now }

// Run drives the cycle until the context is cancelled.
func (f *FastMonitor) Run(ctx context.Context) error {
	f.logger.Info("fast stop-loss monitor started", slog.Duration("interval", f.cfg.Interval))
	defer f.logger.Info("fast stop-loss monitor stopped")

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.Cycle(ctx)
		}
	}
}

// Cycle runs one batched price check over all active positions.
func (f *FastMonitor) Cycle(ctx context.Context) {
	trades := f.ledger.Active()
	if len(trades) == 0 {
		f.metrics.IncCycle("fast")
		return
	}

	seen := make(map[string]bool, len(trades))
	mints := make([]string, 0, len(trades))
	for _, t := range trades {
		if !seen[t.TokenMint] {
			seen[t.TokenMint] = true
			mints = append(mints, t.TokenMint)
		}
	}

	prices, err := f.prices.Prices(ctx, mints)
	if err != nil {
		f.metrics.IncFeedError("price_feed")
		f.logger.WarnContext(ctx, "batch price lookup failed, skipping cycle",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, t := range trades {
		if ctx.Err() != nil {
			return
		}
		price, ok := prices[t.TokenMint]
		if !ok || price <= 0 {
			continue
		}
		f.evaluate(ctx, t, price)
	}
	f.metrics.IncCycle("fast")
}

func (f *FastMonitor) evaluate(ctx context.Context, t domain.Trade, price float64) {
	md := domain.SyntheticMarketData(t.TokenMint, price, f.now())

	for _, rule := range f.rules {
		d, ok := rule.eval(t, md)
		if !ok {
			continue
		}
		f.logger.InfoContext(ctx, "fast exit rule fired",
			slog.String("rule", rule.name),
			slog.String("trade_id", t.ID),
			slog.String("token", t.TokenSymbol),
			slog.Float64("price", price),
			slog.Float64("pnl_percent", t.UnrealizedPnLPercent(price)),
		)
		if err := f.seller.Sell(ctx, t, md, d.percent, d.reason); err != nil {
			f.logger.ErrorContext(ctx, "fast sell failed, position stays active",
				slog.String("trade_id", t.ID),
				slog.String("token", t.TokenSymbol),
				slog.String("reason", string(d.reason)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
}
