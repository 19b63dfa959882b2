package domain

import "time"

// AlertLevel is the market guard's current circuit-breaker level. Exactly one
// level is active at any time; transitions jump directly to whichever level
// the raw signals qualify for.
type AlertLevel string

const (
	AlertNone   AlertLevel = "NONE"
	AlertYellow AlertLevel = "YELLOW"
	AlertOrange AlertLevel = "ORANGE"
	AlertRed    AlertLevel = "RED"
)

// PricePoint is one sample of the reference-asset price history.
type PricePoint struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// VolatilitySample is one short-interval absolute percent change between two
// consecutive reference prices.
type VolatilitySample struct {
	Percent float64   `json:"percent"`
	At      time.Time `json:"at"`
}

// GuardState is the market guard's persisted document.
type GuardState struct {
	Level              AlertLevel         `json:"level"`
	LevelSince         time.Time          `json:"level_since"`
	PriceHistory       []PricePoint       `json:"price_history"`
	VolatilityHistory  []VolatilitySample `json:"volatility_history"`
	BaselineVolatility float64            `json:"baseline_volatility"`
	BaselineSet        bool               `json:"baseline_set"`
	StableFor          time.Duration      `json:"stable_for_ns"`
	LastCheck          time.Time          `json:"last_check"`
}
