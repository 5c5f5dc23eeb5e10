// Package signal defines trade signals and the TTL-bounded mailbox that
// decouples fast signal detection from slow, broker-bound execution.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a trade signal
type Type string

const (
	TypeStopLoss       Type = "stop_loss"
	TypeTakeProfitHalf Type = "take_profit_half"
	TypeTakeProfitFull Type = "take_profit_full"
	TypeGridBuy        Type = "grid_buy"
	TypeGridSell       Type = "grid_sell"
)

// IsSell reports whether executing the signal sells stock
func (t Type) IsSell() bool {
	return t != TypeGridBuy
}

// IsRiskExit reports whether the signal came from the risk engine
func (t Type) IsRiskExit() bool {
	return t == TypeStopLoss || t == TypeTakeProfitHalf || t == TypeTakeProfitFull
}

// Signal one detected trade intent for a symbol
type Signal struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      Type      `json:"type"`
	Price     float64   `json:"price"`  // detection price
	Volume    int64     `json:"volume"` // units to trade; 0 lets the executor size it
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds a signal stamped now
func New(symbol string, typ Type, price float64, volume int64, reason string) *Signal {
	return &Signal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Type:      typ,
		Price:     price,
		Volume:    volume,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// Age time since detection
func (s *Signal) Age() time.Duration {
	return time.Since(s.CreatedAt)
}
