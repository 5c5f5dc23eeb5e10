package grid

import (
	"fmt"
	"time"
)

// Session status values
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// Params configuration for starting a grid session
type Params struct {
	Symbol        string        `json:"symbol"`
	CenterPrice   float64       `json:"center_price"`
	PriceInterval float64       `json:"price_interval"` // band half-width as a ratio, e.g. 0.05
	PositionRatio float64       `json:"position_ratio"` // fraction of max investment per trade
	CallbackRatio float64       `json:"callback_ratio"` // reversal confirmation, e.g. 0.005
	MaxInvestment float64       `json:"max_investment"`
	MaxDeviation  float64       `json:"max_deviation"` // exit when price drifts this far from center
	TargetProfit  float64       `json:"target_profit"` // realized profit ratio to stop at
	StopLoss      float64       `json:"stop_loss"`     // realized loss ratio to stop at, negative
	Duration      time.Duration `json:"duration"`      // session lifetime
}

// Validate checks parameter sanity before a session starts
func (p Params) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("grid params: symbol is empty")
	}
	if p.CenterPrice <= 0 {
		return fmt.Errorf("grid params %s: center price must be positive", p.Symbol)
	}
	if p.PriceInterval <= 0 || p.PriceInterval >= 1 {
		return fmt.Errorf("grid params %s: price interval %v out of (0, 1)", p.Symbol, p.PriceInterval)
	}
	if p.PositionRatio <= 0 || p.PositionRatio > 1 {
		return fmt.Errorf("grid params %s: position ratio %v out of (0, 1]", p.Symbol, p.PositionRatio)
	}
	if p.CallbackRatio <= 0 || p.CallbackRatio >= p.PriceInterval {
		return fmt.Errorf("grid params %s: callback ratio %v must be in (0, interval)", p.Symbol, p.CallbackRatio)
	}
	if p.MaxInvestment <= 0 {
		return fmt.Errorf("grid params %s: max investment must be positive", p.Symbol)
	}
	if p.MaxDeviation <= p.PriceInterval {
		return fmt.Errorf("grid params %s: max deviation %v must exceed interval %v", p.Symbol, p.MaxDeviation, p.PriceInterval)
	}
	if p.StopLoss >= 0 {
		return fmt.Errorf("grid params %s: stop loss must be negative", p.Symbol)
	}
	if p.TargetProfit <= 0 {
		return fmt.Errorf("grid params %s: target profit must be positive", p.Symbol)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("grid params %s: duration must be positive", p.Symbol)
	}
	return nil
}

// Session one running grid for a symbol: configuration plus realized
// running totals. Profit here is realized cash flow only — mark-to-market
// drift of the underlying is deliberately excluded so the session measures
// oscillation capture, not trend.
type Session struct {
	Symbol             string    `json:"symbol"`
	Status             string    `json:"status"`
	CenterPrice        float64   `json:"center_price"`         // original static center
	CurrentCenterPrice float64   `json:"current_center_price"` // recentered after each fill
	PriceInterval      float64   `json:"price_interval"`
	PositionRatio      float64   `json:"position_ratio"`
	CallbackRatio      float64   `json:"callback_ratio"`
	MaxInvestment      float64   `json:"max_investment"`
	CurrentInvestment  float64   `json:"current_investment"`
	MaxDeviation       float64   `json:"max_deviation"`
	TargetProfit       float64   `json:"target_profit"`
	StopLoss           float64   `json:"stop_loss"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	StopReason         string    `json:"stop_reason,omitempty"`

	BuyCount        int     `json:"buy_count"`
	SellCount       int     `json:"sell_count"`
	TotalBuyAmount  float64 `json:"total_buy_amount"`
	TotalSellAmount float64 `json:"total_sell_amount"`
	TradeCount      int     `json:"trade_count"`
}

// NewSession starts a session from validated params
func NewSession(p Params) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		Symbol:             p.Symbol,
		Status:             StatusActive,
		CenterPrice:        p.CenterPrice,
		CurrentCenterPrice: p.CenterPrice,
		PriceInterval:      p.PriceInterval,
		PositionRatio:      p.PositionRatio,
		CallbackRatio:      p.CallbackRatio,
		MaxInvestment:      p.MaxInvestment,
		MaxDeviation:       p.MaxDeviation,
		TargetProfit:       p.TargetProfit,
		StopLoss:           p.StopLoss,
		StartTime:          now,
		EndTime:            now.Add(p.Duration),
	}, nil
}

// ProfitRatio realized P&L over the committed capital:
// (total sell - total buy) / max investment
func (s *Session) ProfitRatio() float64 {
	if s.MaxInvestment <= 0 {
		return 0
	}
	return (s.TotalSellAmount - s.TotalBuyAmount) / s.MaxInvestment
}

// Deviation distance of price from the original static center
func (s *Session) Deviation(price float64) float64 {
	if s.CenterPrice <= 0 {
		return 0
	}
	d := (price - s.CenterPrice) / s.CenterPrice
	if d < 0 {
		return -d
	}
	return d
}

// Bounds the current band around the latest center
func (s *Session) Bounds() (lower, upper float64) {
	return s.CurrentCenterPrice * (1 - s.PriceInterval),
		s.CurrentCenterPrice * (1 + s.PriceInterval)
}

// RecordFill applies one confirmed fill and recenters the band on the
// fill price so the next grid levels track the latest trade
func (s *Session) RecordFill(isBuy bool, price float64, volume int64) {
	amount := price * float64(volume)
	if isBuy {
		s.BuyCount++
		s.TotalBuyAmount += amount
		s.CurrentInvestment += amount
	} else {
		s.SellCount++
		s.TotalSellAmount += amount
		s.CurrentInvestment -= amount
		if s.CurrentInvestment < 0 {
			s.CurrentInvestment = 0
		}
	}
	s.TradeCount++
	s.CurrentCenterPrice = price
}

// Stop marks the session terminated with a reason
func (s *Session) Stop(reason string) {
	s.Status = StatusStopped
	s.StopReason = reason
}

// Active reports whether the session is still trading
func (s *Session) Active() bool {
	return s.Status == StatusActive
}
