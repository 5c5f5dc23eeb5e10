package risk

import (
	"fmt"

	"miniqmt/position"
	"miniqmt/signal"
)

// Geometry bounds for the stop-loss circuit breaker. A floor outside
// [0.5, 1.5] of cost means the record is corrupt, and an implied loss
// under 2% is more likely a mis-trigger than a real stop.
const (
	minFloorCostRatio = 0.5
	maxFloorCostRatio = 1.5
	minImpliedLoss    = 0.02
)

// ValidateExit is the second-pass gate the execution loop runs on risk
// signals, independent of detection. A rejected signal is dropped, never
// retried.
func ValidateExit(sig *signal.Signal, p *position.Position) (ok bool, reason string) {
	if p == nil {
		return false, "position no longer held"
	}
	if p.Available <= 0 {
		return false, "no sellable volume"
	}

	switch sig.Type {
	case signal.TypeStopLoss:
		if p.CostPrice <= 0 {
			return false, "invalid cost price"
		}
		ratio := p.StopLossPrice / p.CostPrice
		if ratio < minFloorCostRatio || ratio > maxFloorCostRatio {
			return false, fmt.Sprintf("stop floor geometry implausible: floor/cost = %.3f", ratio)
		}
		impliedLoss := (p.CostPrice - p.StopLossPrice) / p.CostPrice
		if impliedLoss < minImpliedLoss {
			return false, fmt.Sprintf("implied loss %.2f%% below %.0f%% minimum", impliedLoss*100, minImpliedLoss*100)
		}
		return true, ""

	case signal.TypeTakeProfitHalf, signal.TypeTakeProfitFull:
		if p.CurrentPrice <= p.CostPrice {
			return false, fmt.Sprintf("take-profit with price %.3f <= cost %.3f", p.CurrentPrice, p.CostPrice)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("not a risk exit signal: %s", sig.Type)
	}
}
