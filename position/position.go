// Package position holds the fast in-memory tier of the dual-tier position
// store: the authoritative per-symbol book mutated on every tick and fill,
// plus the background worker that writes it through to the durable tier.
package position

import (
	"fmt"
	"time"
)

// Position current holding for one symbol.
// HighestPrice, StopLossPrice, ProfitTriggered and BreakoutHighestPrice are
// locally owned risk state: broker snapshots never overwrite them.
type Position struct {
	Symbol                  string     `json:"symbol"`
	Volume                  int64      `json:"volume"`
	Available               int64      `json:"available"` // sellable units, <= Volume
	CostPrice               float64    `json:"cost_price"`
	CurrentPrice            float64    `json:"current_price"`
	MarketValue             float64    `json:"market_value"`
	ProfitRatio             float64    `json:"profit_ratio"`
	HighestPrice            float64    `json:"highest_price"`
	StopLossPrice           float64    `json:"stop_loss_price"`
	ProfitTriggered         bool       `json:"profit_triggered"`
	ProfitBreakoutTriggered bool       `json:"profit_breakout_triggered"`
	BreakoutHighestPrice    float64    `json:"breakout_highest_price"`
	OpenDate                *time.Time `json:"open_date"`
	LastUpdate              time.Time  `json:"last_update"`
	Version                 uint64     `json:"version"` // book version at last mutation
}

// NewPosition validates and builds a position.
// Enforces available <= volume and highest >= cost at creation so the rest
// of the system never sees a malformed record.
func NewPosition(symbol string, volume, available int64, costPrice, currentPrice float64) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("position symbol is empty")
	}
	if volume <= 0 {
		return nil, fmt.Errorf("position %s: volume must be positive, got %d", symbol, volume)
	}
	if available < 0 || available > volume {
		return nil, fmt.Errorf("position %s: available %d out of range [0, %d]", symbol, available, volume)
	}
	if costPrice <= 0 {
		return nil, fmt.Errorf("position %s: cost price must be positive, got %v", symbol, costPrice)
	}

	now := time.Now()
	openDate := now
	p := &Position{
		Symbol:       symbol,
		Volume:       volume,
		Available:    available,
		CostPrice:    costPrice,
		CurrentPrice: currentPrice,
		HighestPrice: costPrice,
		OpenDate:     &openDate,
		LastUpdate:   now,
	}
	if currentPrice > p.HighestPrice {
		p.HighestPrice = currentPrice
	}
	p.refreshDerived()
	return p, nil
}

// refreshDerived recomputes market value and profit ratio
func (p *Position) refreshDerived() {
	p.MarketValue = float64(p.Volume) * p.CurrentPrice
	if p.CostPrice > 0 {
		p.ProfitRatio = (p.CurrentPrice - p.CostPrice) / p.CostPrice
	}
}

// PeakGain gain from cost to the highest observed price
func (p *Position) PeakGain() float64 {
	if p.CostPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - p.CostPrice) / p.CostPrice
}

// clone returns a copy safe to hand outside the book's lock
func (p *Position) clone() *Position {
	cp := *p
	if p.OpenDate != nil {
		d := *p.OpenDate
		cp.OpenDate = &d
	}
	return &cp
}

// Update a partial mutation applied through Book.Upsert.
// Nil fields keep their stored value.
type Update struct {
	Volume                  *int64
	Available               *int64
	CostPrice               *float64
	CurrentPrice            *float64
	HighestPrice            *float64
	ProfitTriggered         *bool
	ProfitBreakoutTriggered *bool
	BreakoutHighestPrice    *float64
}

// BrokerPosition one entry of an external positions snapshot
type BrokerPosition struct {
	Symbol      string  `json:"symbol"`
	Volume      int64   `json:"volume"`
	Available   int64   `json:"available"`
	CostPrice   float64 `json:"cost_price"`
	MarketValue float64 `json:"market_value"`
}

// Int64Ptr helper for building Updates
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr helper for building Updates
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr helper for building Updates
func BoolPtr(v bool) *bool { return &v }
