// Package risk implements the dynamic stop-loss / tiered take-profit state
// machine. Each position moves ENTERED -> BREAKOUT_ARMED ->
// FIRST_PROFIT_TAKEN; the stop floor starts at a fixed ratio below cost and
// ratchets up behind the peak once the first profit is taken.
package risk

import (
	"fmt"
	"sort"

	"miniqmt/config"
	"miniqmt/logger"
	"miniqmt/position"
	"miniqmt/signal"
)

// Engine evaluates positions against the latest price and emits at most
// one signal per symbol per cycle
type Engine struct {
	cfg   config.RiskConfig
	tiers []config.RiskTier // sorted highest gain threshold first
}

// NewEngine builds an engine from one config snapshot
func NewEngine(cfg config.RiskConfig) *Engine {
	tiers := make([]config.RiskTier, len(cfg.TrailingTiers))
	copy(tiers, cfg.TrailingTiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].GainThreshold > tiers[j].GainThreshold
	})
	return &Engine{cfg: cfg, tiers: tiers}
}

// Floor computes the stop-loss floor for a position. Usable as the book's
// StopLossFunc so the stored stop_loss_price tracks every mutation.
//
// Before the first profit is taken the floor is static below cost. After,
// it trails the peak: the highest satisfied gain tier picks the retain
// coefficient, and with no tier satisfied the coefficient is 1.0 — the
// tightest possible stop, pinned at the peak. The trailing floor never
// moves down: crossing a tier boundary swaps in a smaller coefficient, so
// the raw product can shrink on a rising price, and the previously stored
// floor wins in that case.
func (e *Engine) Floor(p *position.Position) float64 {
	if p.CostPrice <= 0 {
		return 0
	}
	if !p.ProfitTriggered {
		return p.CostPrice * (1 + e.cfg.StopLossRatio)
	}

	peakGain := p.PeakGain()
	coefficient := 1.0
	for _, tier := range e.tiers {
		if peakGain >= tier.GainThreshold {
			coefficient = tier.RetainCoefficient
			break
		}
	}
	floor := p.HighestPrice * coefficient
	if p.StopLossPrice > floor {
		floor = p.StopLossPrice
	}
	return floor
}

// Evaluate runs one cycle of the state machine for symbol at price.
// State transitions (arming, breakout peak updates, the profit-taken flag)
// are written back through the book; the return value is the single signal
// for this cycle, or nil.
//
// Internal failures never propagate: the method logs, records nothing and
// returns nil so one bad symbol cannot stall the monitor loop.
func (e *Engine) Evaluate(book *position.Book, symbol string, price float64) (sig *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("⚠️  Risk evaluation panic for %s: %v", symbol, r)
			sig = nil
		}
	}()

	p := book.Get(symbol)
	if p == nil {
		return nil
	}
	if price <= 0 || p.CostPrice <= 0 {
		logger.Debugf("Skipping risk cycle for %s: invalid data (price=%v cost=%v)", symbol, price, p.CostPrice)
		return nil
	}

	// keep current/highest price and the derived floor fresh before deciding
	if err := book.Upsert(symbol, position.Update{CurrentPrice: position.Float64Ptr(price)}); err != nil {
		logger.Warnf("⚠️  Failed to update %s price in book: %v", symbol, err)
		return nil
	}
	p = book.Get(symbol)
	if p == nil {
		return nil
	}

	// stop-loss strictly precedes any take-profit logic
	if !p.ProfitTriggered && p.StopLossPrice > 0 && price <= p.StopLossPrice {
		return signal.New(symbol, signal.TypeStopLoss, price, p.Available,
			fmt.Sprintf("price %.3f <= floor %.3f", price, p.StopLossPrice))
	}

	gain := (price - p.CostPrice) / p.CostPrice

	// arming: initial profit threshold crossed, start tracking the breakout
	// peak — no sale yet
	if !p.ProfitBreakoutTriggered && !p.ProfitTriggered && gain >= e.cfg.InitialTakeProfitRatio {
		err := book.Upsert(symbol, position.Update{
			ProfitBreakoutTriggered: position.BoolPtr(true),
			BreakoutHighestPrice:    position.Float64Ptr(price),
		})
		if err != nil {
			logger.Warnf("⚠️  Failed to arm breakout for %s: %v", symbol, err)
		} else {
			logger.Infof("🎯 %s breakout armed at %.3f (gain %.2f%%)", symbol, price, gain*100)
		}
		return nil
	}

	// armed: trail the breakout peak and sell a fraction on pullback
	if p.ProfitBreakoutTriggered && !p.ProfitTriggered {
		breakoutHigh := p.BreakoutHighestPrice
		if price > breakoutHigh {
			breakoutHigh = price
			if err := book.Upsert(symbol, position.Update{BreakoutHighestPrice: position.Float64Ptr(breakoutHigh)}); err != nil {
				logger.Warnf("⚠️  Failed to update breakout peak for %s: %v", symbol, err)
				return nil
			}
		}
		if breakoutHigh > 0 && (breakoutHigh-price)/breakoutHigh >= e.cfg.PullbackRatio {
			volume := partialVolume(p.Available, e.cfg.PartialSellFraction)
			if volume <= 0 {
				return nil
			}
			if err := book.Upsert(symbol, position.Update{ProfitTriggered: position.BoolPtr(true)}); err != nil {
				logger.Warnf("⚠️  Failed to flag first profit for %s: %v", symbol, err)
				return nil
			}
			return signal.New(symbol, signal.TypeTakeProfitHalf, price, volume,
				fmt.Sprintf("pullback %.2f%% from breakout peak %.3f", (breakoutHigh-price)/breakoutHigh*100, breakoutHigh))
		}
		return nil
	}

	// trailing tier: the ratcheted floor closes the remainder
	if p.ProfitTriggered && p.StopLossPrice > 0 && price <= p.StopLossPrice {
		return signal.New(symbol, signal.TypeTakeProfitFull, price, p.Available,
			fmt.Sprintf("price %.3f <= trailing floor %.3f (peak %.3f)", price, p.StopLossPrice, p.HighestPrice))
	}

	return nil
}

// partialVolume rounds the partial exit down to whole board lots
func partialVolume(available int64, fraction float64) int64 {
	if available <= 0 || fraction <= 0 {
		return 0
	}
	volume := int64(float64(available)*fraction) / lotSize * lotSize
	if volume <= 0 && available >= lotSize {
		volume = lotSize
	}
	if volume > available {
		volume = available
	}
	return volume
}

// lotSize A-share board lot
const lotSize = 100
