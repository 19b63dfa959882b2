// Package guard implements the market-wide circuit breaker. It watches the
// reference asset (BTC) for cascade conditions and exposes an alert level the
// monitors consult before and while managing positions. Monitors only read
// the level; transitions are driven exclusively by the guard's own check
// cycle.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Config holds the guard's thresholds and windows.
type Config struct {
	CheckInterval time.Duration

	PriceWindow      time.Duration // bounded price history span
	VolatilityWindow time.Duration // bounded volatility history span
	BaselineSamples  int           // one-time baseline calibration size
	CurrentSamples   int           // samples averaged for current volatility

	RedDrop30mPct    float64 // 30m drop that trips RED
	RedVolMultiplier float64 // volatility multiplier that trips RED
	OrangeDrop4hPct  float64 // 4h drop treated as elevated liquidation risk
	MinorDrop4hPct   float64 // 4h drop below which the proxy reads calm
	YellowDrop1hPct  float64 // 1h drop that trips YELLOW

	StableDrop1hPct  float64       // stability check ceilings
	StableDrop30mPct float64
	StableDuration   time.Duration // accumulated calm required to clear
}

// Defaults returns the standard guard tuning.
func Defaults() Config {
	return Config{
		CheckInterval:    5 * time.Minute,
		PriceWindow:      5 * time.Hour,
		VolatilityWindow: 2 * time.Hour,
		BaselineSamples:  6,
		CurrentSamples:   3,
		RedDrop30mPct:    5.0,
		RedVolMultiplier: 10.0,
		OrangeDrop4hPct:  4.0,
		MinorDrop4hPct:   2.0,
		YellowDrop1hPct:  3.0,
		StableDrop1hPct:  1.0,
		StableDrop30mPct: 1.0,
		StableDuration:   4 * time.Hour,
	}
}

// Guard is the circuit-breaker state machine. It owns one persisted document
// and serializes all mutations behind its mutex.
type Guard struct {
	feed    domain.ReferencePriceFeed
	store   domain.DocStore
	events  domain.EventSink    // may be nil
	history domain.HistoryStore // may be nil
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state domain.GuardState
}

// New creates a Guard and loads its persisted state.
func New(feed domain.ReferencePriceFeed, store domain.DocStore, events domain.EventSink, history domain.HistoryStore, cfg Config, logger *slog.Logger) (*Guard, error) {
	g := &Guard{
		feed:    feed,
		store:   store,
		events:  events,
		history: history,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "market_guard")),
		now:     time.Now,
	}
	if err := store.Load(&g.state); err != nil {
		return nil, fmt.Errorf("guard: load state: %w", err)
	}
	if g.state.Level == "" {
		g.state.Level = domain.AlertNone
	}
	return g, nil
}

// SetClock overrides the guard's clock. Intended for tests.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Level returns the current alert level.
func (g *Guard) Level() domain.AlertLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Level
}

// Active reports whether any alert is in effect.
func (g *Guard) Active() bool { return g.Level() != domain.AlertNone }

// Red reports whether the RED level is in effect.
func (g *Guard) Red() bool { return g.Level() == domain.AlertRed }

// OrangeOrRed reports whether the ORANGE or RED level is in effect.
func (g *Guard) OrangeOrRed() bool {
	l := g.Level()
	return l == domain.AlertOrange || l == domain.AlertRed
}

// Run drives the check cycle until the context is cancelled.
func (g *Guard) Run(ctx context.Context) error {
	g.logger.Info("market guard started",
		slog.Duration("interval", g.cfg.CheckInterval),
		slog.String("level", string(g.Level())),
	)
	defer g.logger.Info("market guard stopped")

	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	g.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check runs one guard cycle. Cycles are rate-limited to the configured
// interval so overlapping callers (or a restart mid-interval) cannot double
// the cadence. A feed failure skips the cycle entirely: no state changes.
func (g *Guard) Check(ctx context.Context) {
	g.mu.Lock()
	now := g.now()
	if !g.state.LastCheck.IsZero() && now.Sub(g.state.LastCheck) < g.cfg.CheckInterval {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	price, err := g.feed.ReferencePrice(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "reference price fetch failed, skipping cycle",
			slog.String("error", err.Error()),
		)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.LastCheck = now

	// Volatility sample: absolute percent change from the preceding price.
	if n := len(g.state.PriceHistory); n > 0 {
		prev := g.state.PriceHistory[n-1].Price
		if prev > 0 {
			g.state.VolatilityHistory = append(g.state.VolatilityHistory, domain.VolatilitySample{
				Percent: math.Abs((price - prev) / prev * 100),
				At:      now,
			})
		}
	}
	g.state.PriceHistory = append(g.state.PriceHistory, domain.PricePoint{Price: price, At: now})
	g.pruneLocked(now)

	// One-time baseline calibration from the first samples.
	if !g.state.BaselineSet && len(g.state.VolatilityHistory) >= g.cfg.BaselineSamples {
		g.state.BaselineVolatility = meanVol(g.state.VolatilityHistory)
		g.state.BaselineSet = true
		g.logger.InfoContext(ctx, "volatility baseline calibrated",
			slog.Float64("baseline_pct", g.state.BaselineVolatility),
		)
	}

	drop30m := g.dropLocked(now, 30*time.Minute)
	drop1h := g.dropLocked(now, time.Hour)
	drop4h := g.dropLocked(now, 4*time.Hour)
	volMult := g.volMultiplierLocked()

	target, reason := g.evaluate(drop30m, drop1h, drop4h, volMult)
	switch {
	case target != "":
		g.transitionLocked(ctx, target, reason, now)
	case g.state.Level != domain.AlertNone:
		g.stabilityLocked(ctx, drop30m, drop1h, drop4h, now)
	}

	g.persistLocked(ctx)
}

// evaluate applies the thresholds in strict priority order and returns the
// first matching level, or "" when calm.
func (g *Guard) evaluate(drop30m, drop1h, drop4h, volMult float64) (domain.AlertLevel, string) {
	if drop30m >= g.cfg.RedDrop30mPct {
		return domain.AlertRed, fmt.Sprintf("30m drop %.2f%%", drop30m)
	}
	if volMult >= g.cfg.RedVolMultiplier && g.state.BaselineSet {
		return domain.AlertRed, fmt.Sprintf("volatility %.1fx baseline", volMult)
	}
	// Liquidation-risk proxy: a sustained 4h decline stands in for the
	// unavailable direct liquidation feed.
	if drop4h > g.cfg.OrangeDrop4hPct {
		return domain.AlertOrange, fmt.Sprintf("4h drop %.2f%%", drop4h)
	}
	if drop1h >= g.cfg.YellowDrop1hPct {
		return domain.AlertYellow, fmt.Sprintf("1h drop %.2f%%", drop1h)
	}
	return "", ""
}

// stabilityLocked accumulates calm cycles toward de-escalation. Any
// non-stable cycle resets the accumulator.
func (g *Guard) stabilityLocked(ctx context.Context, drop30m, drop1h, drop4h float64, now time.Time) {
	stable := drop1h < g.cfg.StableDrop1hPct &&
		drop30m < g.cfg.StableDrop30mPct &&
		drop4h < g.cfg.MinorDrop4hPct
	if !stable {
		g.state.StableFor = 0
		return
	}
	g.state.StableFor += g.cfg.CheckInterval
	if g.state.StableFor >= g.cfg.StableDuration {
		g.transitionLocked(ctx, domain.AlertNone, fmt.Sprintf("stable for %s", g.state.StableFor), now)
		g.state.StableFor = 0
	}
}

// transitionLocked switches to the target level. It is a no-op when the level
// is unchanged, so the notification fires exactly once per transition.
func (g *Guard) transitionLocked(ctx context.Context, target domain.AlertLevel, reason string, now time.Time) {
	if g.state.Level == target {
		if target != domain.AlertNone {
			g.state.StableFor = 0
		}
		return
	}
	from := g.state.Level
	g.state.Level = target
	g.state.LevelSince = now
	g.state.StableFor = 0

	g.logger.WarnContext(ctx, "market guard transition",
		slog.String("from", string(from)),
		slog.String("to", string(target)),
		slog.String("reason", reason),
	)

	if g.history != nil {
		if err := g.history.RecordGuardEvent(ctx, from, target, reason, now); err != nil {
			g.logger.WarnContext(ctx, "guard event archive failed", slog.String("error", err.Error()))
		}
	}
	if g.events != nil {
		evtType := domain.EventGuardAlert
		title := fmt.Sprintf("Market guard: %s", target)
		if target == domain.AlertNone {
			evtType = domain.EventGuardClear
			title = "Market guard cleared"
		}
		g.events.Notify(ctx, domain.Event{
			Type:    evtType,
			Title:   title,
			Message: fmt.Sprintf("%s -> %s (%s)", from, target, reason),
		})
	}
}

// dropLocked returns the percentage decline between the oldest and newest
// price inside the window, or 0 when the window holds fewer than two points
// or the price did not fall.
func (g *Guard) dropLocked(now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var oldest, newest *domain.PricePoint
	for i := range g.state.PriceHistory {
		p := &g.state.PriceHistory[i]
		if p.At.Before(cutoff) {
			continue
		}
		if oldest == nil {
			oldest = p
		}
		newest = p
	}
	if oldest == nil || newest == nil || oldest == newest || oldest.Price <= 0 {
		return 0
	}
	drop := (oldest.Price - newest.Price) / oldest.Price * 100
	if drop < 0 {
		return 0
	}
	return drop
}

// volMultiplierLocked returns current volatility (mean of the most recent
// samples) relative to the calibrated baseline, or 0 before calibration.
func (g *Guard) volMultiplierLocked() float64 {
	if !g.state.BaselineSet || g.state.BaselineVolatility <= 0 {
		return 0
	}
	n := len(g.state.VolatilityHistory)
	if n == 0 {
		return 0
	}
	k := g.cfg.CurrentSamples
	if k > n {
		k = n
	}
	return meanVol(g.state.VolatilityHistory[n-k:]) / g.state.BaselineVolatility
}

func (g *Guard) pruneLocked(now time.Time) {
	priceCutoff := now.Add(-g.cfg.PriceWindow)
	prices := g.state.PriceHistory[:0]
	for _, p := range g.state.PriceHistory {
		if !p.At.Before(priceCutoff) {
			prices = append(prices, p)
		}
	}
	g.state.PriceHistory = prices

	volCutoff := now.Add(-g.cfg.VolatilityWindow)
	vols := g.state.VolatilityHistory[:0]
	for _, v := range g.state.VolatilityHistory {
		if !v.At.Before(volCutoff) {
			vols = append(vols, v)
		}
	}
	g.state.VolatilityHistory = vols
}

func (g *Guard) persistLocked(ctx context.Context) {
	if err := g.store.Save(g.state); err != nil {
		g.logger.ErrorContext(ctx, "persist guard state failed", slog.String("error", err.Error()))
	}
}

func meanVol(samples []domain.VolatilitySample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Percent
	}
	return sum / float64(len(samples))
}
