// Package market provides quote types, the market data source abstraction
// and the A-share trading calendar.
package market

import (
	"context"
	"time"
)

// Tick latest quote for one symbol
type Tick struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	LastClose float64   `json:"last_close"`
	High      float64   `json:"high"`
	Volume    int64     `json:"volume"`
	Amount    float64   `json:"amount"`
	Time      time.Time `json:"time"`
}

// Bar one OHLCV bar
type Bar struct {
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Amount float64   `json:"amount"`
	Time   time.Time `json:"time"`
}

// Source pull-style market data access. Implementations must tolerate
// missing data: an unknown symbol returns (nil, nil), never an error.
type Source interface {
	// LatestTick returns the most recent tick for symbol, or nil when no
	// quote is available yet.
	LatestTick(ctx context.Context, symbol string) (*Tick, error)
	// History returns ordered OHLCV bars for [start, end] at the given
	// period (e.g. "1d", "5m").
	History(ctx context.Context, symbol string, start, end time.Time, period string) ([]Bar, error)
}
