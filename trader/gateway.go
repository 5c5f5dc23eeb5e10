package trader

import (
	"context"
	"time"

	"miniqmt/position"
)

// Fill a confirmed execution reported by a gateway. Tag carries the
// submitting signal type back so the fill can be routed to its origin;
// fills from outside the engine (manual terminal trades) have no tag.
type Fill struct {
	Symbol string    `json:"symbol"`
	IsBuy  bool      `json:"is_buy"`
	Price  float64   `json:"price"`
	Volume int64     `json:"volume"`
	Tag    string    `json:"tag"`
	Time   time.Time `json:"time"`
}

// FillHandler receives confirmed fills. Called from the gateway's goroutine;
// handlers must not block.
type FillHandler func(Fill)

// Gateway order submission and position snapshots against a broker terminal.
// Submit calls are fire-and-confirm: a nil error means the order was accepted,
// the fill arrives through the handler carrying the submitted tag.
type Gateway interface {
	SubmitBuy(ctx context.Context, symbol string, price float64, volume int64, tag string) error
	SubmitSell(ctx context.Context, symbol string, price float64, volume int64, tag string) error
	// PositionsSnapshot returns the broker's authoritative holdings view
	PositionsSnapshot(ctx context.Context) ([]position.BrokerPosition, error)
	SetFillHandler(h FillHandler)
}
