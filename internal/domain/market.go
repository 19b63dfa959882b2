package domain

import "time"

// MarketData is the single market-data contract shared by both exit monitors.
// The slow monitor fills every field from the rich feed; the fast monitor
// synthesizes a record via SyntheticMarketData with conservative defaults.
type MarketData struct {
	TokenMint     string
	PriceUSD      float64
	MarketCap     float64
	LiquidityUSD  float64
	Volume5m      float64
	Volume1h      float64
	Volume24h     float64
	Buys5m        int
	Sells5m       int
	PriceChange5m float64
	PriceChange1h float64
	RetrievedAt   time.Time
}

// BuyPressure returns buys minus sells over the 5-minute window. Positive
// means net buying.
func (m MarketData) BuyPressure() int {
	return m.Buys5m - m.Sells5m
}

// SyntheticMarketData builds a price-only record for the fast stop-loss path.
// Liquidity and momentum fields default to zero, which the sell executor
// treats as the most conservative case (widest slippage bucket).
func SyntheticMarketData(mint string, price float64, at time.Time) MarketData {
	return MarketData{
		TokenMint:   mint,
		PriceUSD:    price,
		RetrievedAt: at,
	}
}
