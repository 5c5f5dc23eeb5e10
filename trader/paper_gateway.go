package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"miniqmt/logger"
	"miniqmt/position"
)

// paperHolding simulated broker-side lot
type paperHolding struct {
	volume    int64
	available int64
	costTotal float64 // cumulative cash spent, for average cost
}

// PaperGateway fills every order instantly at the submitted price and keeps
// its own holdings book, so reconciliation exercises the same path as live.
// T+1 is approximated by making bought shares available immediately; the
// simulation is about signal flow, not settlement.
type PaperGateway struct {
	mu       sync.Mutex
	holdings map[string]*paperHolding
	handler  FillHandler
}

func NewPaperGateway() *PaperGateway {
	return &PaperGateway{holdings: make(map[string]*paperHolding)}
}

func (g *PaperGateway) SetFillHandler(h FillHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *PaperGateway) SubmitBuy(_ context.Context, symbol string, price float64, volume int64, tag string) error {
	if price <= 0 || volume <= 0 {
		return fmt.Errorf("paper buy %s: bad price %v or volume %v", symbol, price, volume)
	}

	g.mu.Lock()
	h, ok := g.holdings[symbol]
	if !ok {
		h = &paperHolding{}
		g.holdings[symbol] = h
	}
	h.volume += volume
	h.available += volume
	h.costTotal += price * float64(volume)
	handler := g.handler
	g.mu.Unlock()

	logger.Infof("📝 Paper buy filled: %s %d @ %.3f", symbol, volume, price)
	if handler != nil {
		handler(Fill{Symbol: symbol, IsBuy: true, Price: price, Volume: volume, Tag: tag, Time: time.Now()})
	}
	return nil
}

func (g *PaperGateway) SubmitSell(_ context.Context, symbol string, price float64, volume int64, tag string) error {
	if price <= 0 || volume <= 0 {
		return fmt.Errorf("paper sell %s: bad price %v or volume %v", symbol, price, volume)
	}

	g.mu.Lock()
	h, ok := g.holdings[symbol]
	if !ok || h.available < volume {
		g.mu.Unlock()
		return fmt.Errorf("paper sell %s: insufficient available shares", symbol)
	}
	avgCost := 0.0
	if h.volume > 0 {
		avgCost = h.costTotal / float64(h.volume)
	}
	h.volume -= volume
	h.available -= volume
	h.costTotal -= avgCost * float64(volume)
	if h.volume <= 0 {
		delete(g.holdings, symbol)
	}
	handler := g.handler
	g.mu.Unlock()

	logger.Infof("📝 Paper sell filled: %s %d @ %.3f", symbol, volume, price)
	if handler != nil {
		handler(Fill{Symbol: symbol, IsBuy: false, Price: price, Volume: volume, Tag: tag, Time: time.Now()})
	}
	return nil
}

func (g *PaperGateway) PositionsSnapshot(context.Context) ([]position.BrokerPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]position.BrokerPosition, 0, len(g.holdings))
	for symbol, h := range g.holdings {
		cost := 0.0
		if h.volume > 0 {
			cost = h.costTotal / float64(h.volume)
		}
		out = append(out, position.BrokerPosition{
			Symbol:    symbol,
			Volume:    h.volume,
			Available: h.available,
			CostPrice: cost,
		})
	}
	return out, nil
}

// Seed installs an initial holding, for tests and warm simulation starts
func (g *PaperGateway) Seed(symbol string, volume, available int64, costPrice float64) {
	g.mu.Lock()
	g.holdings[symbol] = &paperHolding{
		volume:    volume,
		available: available,
		costTotal: costPrice * float64(volume),
	}
	g.mu.Unlock()
}
