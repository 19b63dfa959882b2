// Package cooldown tracks per-token stop-loss cooldowns and the global
// consecutive-stop pause. The register owns one persisted document; every
// mutation is serialized and written through before returning.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Config holds the register's tunable parameters.
type Config struct {
	// TokenCooldown is how long re-entry into a token stays blocked after a
	// stop-loss.
	TokenCooldown time.Duration
	// RecentWindow bounds the recent-stop list feeding the consecutive-stop
	// detector.
	RecentWindow time.Duration
	// ConsecutiveThreshold is the number of stop-losses inside RecentWindow
	// that trips the pause.
	ConsecutiveThreshold int
	// PauseDuration is how long the consecutive-stop pause lasts.
	PauseDuration time.Duration
}

// Defaults returns the standard cooldown parameters: 30m token cooldown, two
// stops inside 30 minutes pause trading for 90 minutes.
func Defaults() Config {
	return Config{
		TokenCooldown:        30 * time.Minute,
		RecentWindow:         30 * time.Minute,
		ConsecutiveThreshold: 2,
		PauseDuration:        90 * time.Minute,
	}
}

// Register is the durable cooldown state owner.
type Register struct {
	store  domain.DocStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state domain.CooldownState
}

// New creates a Register and loads its persisted document.
func New(store domain.DocStore, cfg Config, logger *slog.Logger) (*Register, error) {
	r := &Register{
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "cooldown")),
		now:    time.Now,
	}
	if err := store.Load(&r.state); err != nil {
		return nil, fmt.Errorf("cooldown: load state: %w", err)
	}
	if r.state.LastStopLoss == nil {
		r.state.LastStopLoss = make(map[string]time.Time)
	}
	return r, nil
}

// SetClock overrides the register's clock. Intended for tests.
func (r *Register) SetClock(now func() time.Time) { r.now = now }

// RecordStopLoss notes a realized stop-loss for the given mint, feeds the
// consecutive-stop detector, and persists. When the number of stops inside
// the recent window reaches the threshold, a trading pause is set and the
// recent list is cleared so the next detection starts a fresh window.
func (r *Register) RecordStopLoss(ctx context.Context, mint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.state.LastStopLoss[mint] = now

	cutoff := now.Add(-r.cfg.RecentWindow)
	recent := r.state.RecentStops[:0]
	for _, ts := range r.state.RecentStops {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	r.state.RecentStops = recent

	if len(r.state.RecentStops) >= r.cfg.ConsecutiveThreshold {
		until := now.Add(r.cfg.PauseDuration)
		r.state.PauseUntil = &until
		r.state.RecentStops = nil
		r.logger.WarnContext(ctx, "consecutive stop-losses, pausing entries",
			slog.Time("until", until),
		)
	}

	r.persistLocked(ctx)
}

// LastStopLoss returns the last stop-loss timestamp for mint, if any.
func (r *Register) LastStopLoss(mint string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.state.LastStopLoss[mint]
	return ts, ok
}

// StopLossCooldownActive reports whether the token is still inside its
// post-stop-loss cooldown window.
func (r *Register) StopLossCooldownActive(mint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.state.LastStopLoss[mint]
	if !ok {
		return false
	}
	return r.now().Sub(ts) < r.cfg.TokenCooldown
}

// ConsecutiveStopPauseActive reports whether the global pause is in effect.
// A pause read past its expiry is treated as inactive and cleared lazily.
func (r *Register) ConsecutiveStopPauseActive(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.PauseUntil == nil {
		return false
	}
	if r.now().After(*r.state.PauseUntil) {
		r.state.PauseUntil = nil
		r.persistLocked(ctx)
		return false
	}
	return true
}

// ClearPause drops the consecutive-stop pause, if any.
func (r *Register) ClearPause(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.PauseUntil == nil {
		return
	}
	r.state.PauseUntil = nil
	r.persistLocked(ctx)
}

// Prune drops tokens whose cooldown has expired. Monitors call it
// opportunistically; there is no timer.
func (r *Register) Prune(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	changed := false
	for mint, ts := range r.state.LastStopLoss {
		if now.Sub(ts) >= r.cfg.TokenCooldown {
			delete(r.state.LastStopLoss, mint)
			changed = true
		}
	}
	if changed {
		r.persistLocked(ctx)
	}
}

func (r *Register) persistLocked(ctx context.Context) {
	if err := r.store.Save(r.state); err != nil {
		r.logger.ErrorContext(ctx, "persist cooldown state failed", slog.String("error", err.Error()))
	}
}
