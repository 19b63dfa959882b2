package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// History implements domain.HistoryStore on PostgreSQL.
type History struct {
	pool *pgxpool.Pool
}

// NewHistory creates a History backed by the given connection pool.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

// RecordClosedTrade inserts one row per closed trade. Re-inserting the same
// trade ID is a no-op so retries stay idempotent.
func (h *History) RecordClosedTrade(ctx context.Context, trade domain.Trade) error {
	if trade.ClosedAt == nil || trade.ExitPrice == nil {
		return fmt.Errorf("postgres: trade %s is not closed", trade.ID)
	}

	const query = `
		INSERT INTO trade_history (
			id, strategy, token_mint, token_symbol,
			entry_price, exit_price, size_sol,
			pnl_percent, pnl_sol, status, exit_reason,
			opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := h.pool.Exec(ctx, query,
		trade.ID, string(trade.Strategy), trade.TokenMint, trade.TokenSymbol,
		trade.EntryPrice, *trade.ExitPrice, trade.SizeSOL,
		trade.PnLPercent, trade.PnLSOL, string(trade.Status), string(trade.ExitReason),
		trade.CreatedAt, *trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// RecordGuardEvent inserts one row per alert level transition.
func (h *History) RecordGuardEvent(ctx context.Context, from, to domain.AlertLevel, reason string, at time.Time) error {
	const query = `
		INSERT INTO guard_events (from_level, to_level, reason, occurred_at)
		VALUES ($1, $2, $3, $4)`

	_, err := h.pool.Exec(ctx, query, string(from), string(to), reason, at)
	if err != nil {
		return fmt.Errorf("postgres: insert guard event %s->%s: %w", from, to, err)
	}
	return nil
}

var _ domain.HistoryStore = (*History)(nil)
