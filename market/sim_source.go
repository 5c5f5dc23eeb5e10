package market

import (
	"context"
	"sync"
	"time"
)

// SimSource an in-memory Source for simulation runs and tests.
// Ticks are pushed by the caller; history replays whatever bars were loaded.
type SimSource struct {
	mu    sync.RWMutex
	ticks map[string]*Tick
	bars  map[string][]Bar
}

// NewSimSource creates an empty simulated source
func NewSimSource() *SimSource {
	return &SimSource{
		ticks: make(map[string]*Tick),
		bars:  make(map[string][]Bar),
	}
}

// Push sets the current price for symbol
func (s *SimSource) Push(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.ticks[symbol]
	tick := &Tick{Symbol: symbol, LastPrice: price, High: price, Time: time.Now()}
	if prev != nil {
		tick.LastClose = prev.LastClose
		if prev.High > price {
			tick.High = prev.High
		}
	}
	s.ticks[symbol] = tick
}

// PushTick sets a fully specified tick
func (s *SimSource) PushTick(tick *Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[tick.Symbol] = tick
}

// LoadBars registers history bars for a symbol
func (s *SimSource) LoadBars(symbol string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

// LatestTick implements Source
func (s *SimSource) LatestTick(ctx context.Context, symbol string) (*Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks[symbol], nil
}

// History implements Source
func (s *SimSource) History(ctx context.Context, symbol string, start, end time.Time, period string) ([]Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Bar
	for _, b := range s.bars[symbol] {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
