package monitor

import (
	"context"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Ledger is the position source and mutator the monitors need.
type Ledger interface {
	Active() []domain.Trade
	Update(ctx context.Context, id string, apply func(*domain.Trade)) (domain.Trade, error)
	Stats() domain.AggregateStats
}

// Seller executes an exit decision. Implemented by executor.SellExecutor.
type Seller interface {
	Sell(ctx context.Context, trade domain.Trade, md domain.MarketData, percent float64, reason domain.ExitReason) error
}

// GuardReader is the read-only view of the market guard. Monitors never
// re-derive alert logic themselves.
type GuardReader interface {
	Level() domain.AlertLevel
	Red() bool
	OrangeOrRed() bool
}

// decision is one exit instruction: sell percent of the held quantity for the
// given reason.
type decision struct {
	percent float64
	reason  domain.ExitReason
}

// exitRule is one predicate -> action pair. Rules are evaluated top to bottom
// with early exit, which keeps the ordering contract explicit and testable.
type exitRule struct {
	name string
	eval func(t domain.Trade, md domain.MarketData) (decision, bool)
}

// guardRules returns the priority rules shared by both monitors: RED
// force-close, the guard-tightened (halved) stop, and the standard stop-loss.
func guardRules(g GuardReader, sensitive domain.Strategy) []exitRule {
	return []exitRule{
		{
			name: "market_guard_red",
			eval: func(t domain.Trade, md domain.MarketData) (decision, bool) {
				if g.Red() && t.Strategy == sensitive {
					return decision{percent: 100, reason: domain.ExitReasonGuardRed}, true
				}
				return decision{}, false
			},
		},
		{
			name: "market_guard_orange",
			eval: func(t domain.Trade, md domain.MarketData) (decision, bool) {
				if g.OrangeOrRed() && t.Strategy == sensitive &&
					t.UnrealizedPnLPercent(md.PriceUSD) <= -(t.StopLossPercent/2) {
					return decision{percent: 100, reason: domain.ExitReasonGuardOrange}, true
				}
				return decision{}, false
			},
		},
	}
}

// stopLossRule is the standard per-position stop.
func stopLossRule() exitRule {
	return exitRule{
		name: "stop_loss",
		eval: func(t domain.Trade, md domain.MarketData) (decision, bool) {
			if t.UnrealizedPnLPercent(md.PriceUSD) <= -t.StopLossPercent {
				return decision{percent: 100, reason: domain.ExitReasonStopLoss}, true
			}
			return decision{}, false
		},
	}
}

// trailingStopRule exits a profitable position whose price has retraced more
// than trailPct from its highest observed value.
func trailingStopRule(trailPct float64) exitRule {
	return exitRule{
		name: "trailing_stop",
		eval: func(t domain.Trade, md domain.MarketData) (decision, bool) {
			// Locks in gains only: the rule never fires at a loss.
			if t.UnrealizedPnLPercent(md.PriceUSD) <= 0 || t.HighestPrice <= 0 {
				return decision{}, false
			}
			retrace := (t.HighestPrice - md.PriceUSD) / t.HighestPrice * 100
			if retrace > trailPct {
				return decision{percent: 100, reason: domain.ExitReasonTrailingStop}, true
			}
			return decision{}, false
		},
	}
}

// strategyRule dispatches to the per-strategy exit logic. A strategy may
// request one partial exit per position; once taken, later evaluations sell
// only the residual quantity.
func strategyRule(cfg StrategyExits) exitRule {
	return exitRule{
		name: "strategy",
		eval: func(t domain.Trade, md domain.MarketData) (decision, bool) {
			pnl := t.UnrealizedPnLPercent(md.PriceUSD)
			switch t.Strategy {
			case domain.StrategyScalp:
				if !t.PartialExitDone && pnl >= t.TargetGainPercent {
					return decision{percent: cfg.ScalpPartialPercent, reason: domain.ExitReasonScalpTarget}, true
				}
				if t.PartialExitDone && pnl >= t.TargetGainPercent*cfg.ScalpFinalMultiple {
					return decision{percent: 100, reason: domain.ExitReasonTargetGain}, true
				}
			case domain.StrategyMomentum:
				if pnl >= t.TargetGainPercent {
					return decision{percent: 100, reason: domain.ExitReasonTargetGain}, true
				}
				if pnl > 0 && md.BuyPressure() < 0 {
					return decision{percent: 100, reason: domain.ExitReasonPressureFade}, true
				}
			case domain.StrategyDip:
				if cfg.DipMCTargetMultiple > 0 && t.EntryMarketCap > 0 &&
					md.MarketCap >= t.EntryMarketCap*cfg.DipMCTargetMultiple {
					return decision{percent: 100, reason: domain.ExitReasonMCTarget}, true
				}
				if pnl >= t.TargetGainPercent {
					return decision{percent: 100, reason: domain.ExitReasonTargetGain}, true
				}
			}
			return decision{}, false
		},
	}
}

// StrategyExits holds the strategy-specific exit tuning shared by rule
// construction.
type StrategyExits struct {
	// ScalpPartialPercent is the share sold on the first scalp target hit.
	ScalpPartialPercent float64
	// ScalpFinalMultiple scales the target for the residual's final exit.
	ScalpFinalMultiple float64
	// DipMCTargetMultiple is the market-cap multiple that closes a dip trade.
	DipMCTargetMultiple float64
}
