package domain

import "time"

// Strategy tags a trade with the entry strategy that opened it. The set is
// closed but extensible: monitors only branch on the guard-sensitive strategy
// and otherwise dispatch through the per-strategy exit rules.
type Strategy string

const (
	StrategyScalp    Strategy = "scalp"
	StrategyMomentum Strategy = "momentum"
	StrategyDip      Strategy = "dip"
)

// TradeStatus is the lifecycle state of a trade. A trade moves from active to
// completed or stopped exactly once and never back.
type TradeStatus string

const (
	TradeStatusActive    TradeStatus = "active"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusStopped   TradeStatus = "stopped"
)

// ExitReason records why a trade was (partially or fully) exited.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonTargetGain   ExitReason = "target_gain"
	ExitReasonScalpTarget  ExitReason = "scalp_target"
	ExitReasonMCTarget     ExitReason = "mc_target"
	ExitReasonPressureFade ExitReason = "pressure_fade"
	ExitReasonGuardRed     ExitReason = "market_guard_red"
	ExitReasonGuardOrange  ExitReason = "market_guard_orange"
)

// Stopped reports whether a close with this reason should land the trade in
// the stopped state rather than completed.
func (r ExitReason) Stopped() bool {
	switch r {
	case ExitReasonStopLoss, ExitReasonGuardRed, ExitReasonGuardOrange:
		return true
	default:
		return false
	}
}

// Trade is one open-or-closed automated buy-then-sell cycle for a token.
// Stop-loss and target percentages are copied in at creation so later config
// changes never retroactively alter open trades.
type Trade struct {
	ID                string      `json:"id"`
	Strategy          Strategy    `json:"strategy"`
	TokenMint         string      `json:"token_mint"`
	TokenSymbol       string      `json:"token_symbol"`
	EntryPrice        float64     `json:"entry_price"`
	EntryMarketCap    float64     `json:"entry_market_cap"`
	SizeSOL           float64     `json:"size_sol"`
	TokenQuantity     float64     `json:"token_quantity"`
	InitialQuantity   float64     `json:"initial_quantity"`
	StopLossPercent   float64     `json:"stop_loss_percent"`
	TargetGainPercent float64     `json:"target_gain_percent"`
	HighestPrice      float64     `json:"highest_price"`
	PartialExitDone   bool        `json:"partial_exit_done"`
	Status            TradeStatus `json:"status"`
	EntryTxRef        string      `json:"entry_tx_ref"`
	ExitPrice         *float64    `json:"exit_price,omitempty"`
	ExitTxRef         string      `json:"exit_tx_ref,omitempty"`
	ExitReason        ExitReason  `json:"exit_reason,omitempty"`
	PnLPercent        float64     `json:"pnl_percent"`
	PnLSOL            float64     `json:"pnl_sol"`
	CreatedAt         time.Time   `json:"created_at"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
}

// Active reports whether the trade is still open.
func (t Trade) Active() bool {
	return t.Status == TradeStatusActive
}

// UnrealizedPnLPercent returns the percentage gain or loss of the given price
// against the entry price.
func (t Trade) UnrealizedPnLPercent(price float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return (price - t.EntryPrice) / t.EntryPrice * 100
}

// TradeSpec carries the fields a strategy scanner supplies when opening a
// trade. The ledger assigns the ID, status and timestamps.
type TradeSpec struct {
	Strategy          Strategy
	TokenMint         string
	TokenSymbol       string
	EntryPrice        float64
	EntryMarketCap    float64
	SizeSOL           float64
	TokenQuantity     float64
	StopLossPercent   float64
	TargetGainPercent float64
	EntryTxRef        string
}

// AggregateStats holds running realized P&L counters. The daily counters
// reset at local-day rollover; DailyDate records the day they belong to in
// YYYY-MM-DD form.
type AggregateStats struct {
	DailyPnLSOL float64 `json:"daily_pnl_sol"`
	DailyTrades int     `json:"daily_trades"`
	TotalPnLSOL float64 `json:"total_pnl_sol"`
	TotalTrades int     `json:"total_trades"`
	DailyDate   string  `json:"daily_date"`
}
