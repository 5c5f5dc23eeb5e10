package grid

import (
	"testing"
	"time"
)

func validParams(symbol string) Params {
	return Params{
		Symbol:        symbol,
		CenterPrice:   10.0,
		PriceInterval: 0.05,
		PositionRatio: 0.2,
		CallbackRatio: 0.005,
		MaxInvestment: 50000,
		MaxDeviation:  0.15,
		TargetProfit:  0.10,
		StopLoss:      -0.08,
		Duration:      24 * time.Hour,
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		wantOK bool
	}{
		{"valid", func(*Params) {}, true},
		{"empty symbol", func(p *Params) { p.Symbol = "" }, false},
		{"zero center", func(p *Params) { p.CenterPrice = 0 }, false},
		{"interval too big", func(p *Params) { p.PriceInterval = 1.0 }, false},
		{"callback above interval", func(p *Params) { p.CallbackRatio = 0.06 }, false},
		{"deviation below interval", func(p *Params) { p.MaxDeviation = 0.04 }, false},
		{"positive stop loss", func(p *Params) { p.StopLoss = 0.05 }, false},
		{"zero duration", func(p *Params) { p.Duration = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams("000001.SZ")
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// Realized profit must not move with the underlying price: a session that
// never traded reports zero no matter how far the price drifted.
func TestProfitRatioIsolatedFromMarketDrift(t *testing.T) {
	s, err := NewSession(validParams("000001.SZ"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if got := s.ProfitRatio(); got != 0 {
		t.Errorf("fresh session profit = %v, want 0", got)
	}
	// Price rose 50% since start; still no realized trades
	if got := s.ProfitRatio(); got != 0 {
		t.Errorf("profit after drift = %v, want 0", got)
	}
}

func TestProfitRatioRealizedCashFlow(t *testing.T) {
	p := validParams("000001.SZ")
	p.MaxInvestment = 50000
	s, err := NewSession(p)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Buys totaling 10000, sells totaling 12500: (12500-10000)/50000 = 0.05
	s.RecordFill(true, 10.0, 1000)
	s.RecordFill(false, 12.5, 1000)

	if got := s.ProfitRatio(); got != 0.05 {
		t.Errorf("profit ratio = %v, want 0.05", got)
	}
}

func TestRecordFillRecentersAndClamps(t *testing.T) {
	s, err := NewSession(validParams("000001.SZ"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	s.RecordFill(true, 9.6, 500)
	if s.CurrentCenterPrice != 9.6 {
		t.Errorf("center after buy = %v, want 9.6", s.CurrentCenterPrice)
	}
	if s.CurrentInvestment != 4800 {
		t.Errorf("investment after buy = %v, want 4800", s.CurrentInvestment)
	}

	// A sell larger than the tracked investment clamps at zero
	s.RecordFill(false, 10.4, 1000)
	if s.CurrentInvestment != 0 {
		t.Errorf("investment after oversized sell = %v, want 0", s.CurrentInvestment)
	}
	if s.TradeCount != 2 || s.BuyCount != 1 || s.SellCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", s.TradeCount, s.BuyCount, s.SellCount)
	}
}

func TestDeviationFromStaticCenter(t *testing.T) {
	s, err := NewSession(validParams("000001.SZ"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Recenters must not affect deviation, it anchors to the original center
	s.RecordFill(true, 11.0, 100)

	if got := s.Deviation(11.0); got != 0.1 {
		t.Errorf("deviation at 11.0 = %v, want 0.1", got)
	}
	if got := s.Deviation(9.0); got != 0.1 {
		t.Errorf("deviation at 9.0 = %v, want 0.1", got)
	}
}
