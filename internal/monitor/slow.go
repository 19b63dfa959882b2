// Package monitor runs the dual-cadence exit pipeline: a full-evaluation
// slow loop over rich market data and a latency-sensitive fast loop over
// batched prices. Both loops read shared state through their owners' APIs and
// hand every exit decision to the sell executor.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmarkhas/solsentry/internal/cooldown"
	"github.com/dmarkhas/solsentry/internal/domain"
	"github.com/dmarkhas/solsentry/internal/metrics"
)

// SlowConfig holds the slow monitor's tuning.
type SlowConfig struct {
	Interval time.Duration

	TrailingStopEnabled bool
	TrailingStopPercent float64

	// GuardSensitiveStrategy is the strategy the market guard force-closes
	// and tightens stops for.
	GuardSensitiveStrategy domain.Strategy

	Strategy StrategyExits
}

// DefaultSlowConfig returns the standard slow-monitor tuning.
func DefaultSlowConfig() SlowConfig {
	return SlowConfig{
		Interval:               time.Minute,
		TrailingStopEnabled:    true,
		TrailingStopPercent:    15,
		GuardSensitiveStrategy: domain.StrategyScalp,
		Strategy: StrategyExits{
			ScalpPartialPercent: 80,
			ScalpFinalMultiple:  1.5,
			DipMCTargetMultiple: 2,
		},
	}
}

// SlowMonitor re-evaluates every active position against the full rule set
// once per interval.
type SlowMonitor struct {
	ledger   Ledger
	guard    GuardReader
	cooldown *cooldown.Register
	feed     domain.MarketDataFeed
	seller   Seller
	metrics  *metrics.Metrics
	cfg      SlowConfig
	logger   *slog.Logger
	rules    []exitRule
}

// NewSlow creates a SlowMonitor and builds its ordered rule table.
func NewSlow(
	l Ledger,
	g GuardReader,
	cd *cooldown.Register,
	feed domain.MarketDataFeed,
	seller Seller,
	m *metrics.Metrics,
	cfg SlowConfig,
	logger *slog.Logger,
) *SlowMonitor {
	rules := guardRules(g, cfg.GuardSensitiveStrategy)
	if cfg.TrailingStopEnabled {
		rules = append(rules, trailingStopRule(cfg.TrailingStopPercent))
	}
	rules = append(rules, stopLossRule(), strategyRule(cfg.Strategy))

	return &SlowMonitor{
		ledger:   l,
		guard:    g,
		cooldown: cd,
		feed:     feed,
		seller:   seller,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "slow_monitor")),
		rules:    rules,
	}
}

// Run drives the cycle until the context is cancelled. The in-flight cycle is
// drained, not aborted: a sell that has started completes before Run returns.
func (s *SlowMonitor) Run(ctx context.Context) error {
	s.logger.Info("slow exit monitor started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("slow exit monitor stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle evaluates every active position once. Positions are independent:
// a feed miss or sell failure on one never affects the others.
func (s *SlowMonitor) Cycle(ctx context.Context) {
	trades := s.ledger.Active()
	s.metrics.SetOpenPositions(len(trades))
	s.metrics.SetGuardLevel(s.guard.Level())
	s.metrics.SetDailyPnL(s.ledger.Stats().DailyPnLSOL)

	for _, t := range trades {
		if ctx.Err() != nil {
			return
		}
		s.evaluate(ctx, t)
	}

	s.cooldown.Prune(ctx)
	s.metrics.IncCycle("slow")
}

func (s *SlowMonitor) evaluate(ctx context.Context, t domain.Trade) {
	md, err := s.feed.TokenData(ctx, t.TokenMint)
	if err != nil {
		// Never force an exit from missing data; this position waits for the
		// next cycle.
		s.metrics.IncFeedError("market_data")
		s.logger.WarnContext(ctx, "market data unavailable, skipping position",
			slog.String("trade_id", t.ID),
			slog.String("token", t.TokenSymbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if md.PriceUSD > t.HighestPrice {
		updated, err := s.ledger.Update(ctx, t.ID, func(tr *domain.Trade) {
			tr.HighestPrice = md.PriceUSD
		})
		if err != nil {
			s.logger.WarnContext(ctx, "highest-price update failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		t = updated
	}

	for _, rule := range s.rules {
		d, ok := rule.eval(t, md)
		if !ok {
			continue
		}
		s.logger.InfoContext(ctx, "exit rule fired",
			slog.String("rule", rule.name),
			slog.String("trade_id", t.ID),
			slog.String("token", t.TokenSymbol),
			slog.Float64("price", md.PriceUSD),
			slog.Float64("pnl_percent", t.UnrealizedPnLPercent(md.PriceUSD)),
		)
		if err := s.seller.Sell(ctx, t, md, d.percent, d.reason); err != nil {
			s.logger.ErrorContext(ctx, "sell failed, position stays active",
				slog.String("trade_id", t.ID),
				slog.String("token", t.TokenSymbol),
				slog.String("reason", string(d.reason)),
				slog.String("error", err.Error()),
			)
		}
		return // first match wins; later rules are not evaluated
	}
}
