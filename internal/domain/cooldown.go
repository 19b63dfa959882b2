package domain

import "time"

// CooldownState is the cooldown register's persisted document: per-token
// stop-loss timestamps, the recent-stop window feeding the consecutive-stop
// detector, and the optional trading pause that detector sets.
type CooldownState struct {
	LastStopLoss map[string]time.Time `json:"last_stop_loss"`
	RecentStops  []time.Time          `json:"recent_stops"`
	PauseUntil   *time.Time           `json:"pause_until,omitempty"`
}
