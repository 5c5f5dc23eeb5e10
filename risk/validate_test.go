package risk

import (
	"testing"

	"miniqmt/position"
	"miniqmt/signal"
)

func TestValidateExitStopLoss(t *testing.T) {
	sig := signal.New("000001.SZ", signal.TypeStopLoss, 9.2, 1000, "test")

	tests := []struct {
		name string
		pos  *position.Position
		want bool
	}{
		{
			name: "plausible stop",
			pos:  &position.Position{Available: 1000, CostPrice: 10.0, StopLossPrice: 9.3, CurrentPrice: 9.2},
			want: true,
		},
		{
			// Floor barely above cost: geometry ratio 1.005 passes the
			// bounds but the implied loss is negative, a near-certain
			// data error rather than a real stop.
			name: "implied loss below minimum",
			pos:  &position.Position{Available: 1000, CostPrice: 10.0, StopLossPrice: 10.05, CurrentPrice: 9.9},
			want: false,
		},
		{
			name: "floor geometry corrupt low",
			pos:  &position.Position{Available: 1000, CostPrice: 10.0, StopLossPrice: 4.0, CurrentPrice: 9.2},
			want: false,
		},
		{
			name: "floor geometry corrupt high",
			pos:  &position.Position{Available: 1000, CostPrice: 10.0, StopLossPrice: 16.0, CurrentPrice: 9.2},
			want: false,
		},
		{
			name: "nothing sellable",
			pos:  &position.Position{Available: 0, CostPrice: 10.0, StopLossPrice: 9.3},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ValidateExit(sig, tt.pos)
			if ok != tt.want {
				t.Errorf("ok = %v (reason %q), want %v", ok, reason, tt.want)
			}
		})
	}
}

func TestValidateExitTakeProfit(t *testing.T) {
	half := signal.New("000001.SZ", signal.TypeTakeProfitHalf, 10.5, 600, "test")
	full := signal.New("000001.SZ", signal.TypeTakeProfitFull, 10.4, 400, "test")

	profitable := &position.Position{Available: 1000, CostPrice: 10.0, CurrentPrice: 10.5}
	underwater := &position.Position{Available: 1000, CostPrice: 10.0, CurrentPrice: 9.8}

	if ok, _ := ValidateExit(half, profitable); !ok {
		t.Error("profitable half exit rejected")
	}
	if ok, reason := ValidateExit(half, underwater); ok {
		t.Errorf("underwater half exit passed (reason %q)", reason)
	}
	if ok, reason := ValidateExit(full, underwater); ok {
		t.Errorf("underwater full exit passed (reason %q)", reason)
	}
}

func TestValidateExitMissingPosition(t *testing.T) {
	sig := signal.New("000001.SZ", signal.TypeStopLoss, 9.2, 1000, "test")
	if ok, _ := ValidateExit(sig, nil); ok {
		t.Error("exit for missing position passed")
	}
}

func TestValidateExitRejectsGridSignals(t *testing.T) {
	sig := signal.New("000001.SZ", signal.TypeGridSell, 10.5, 500, "test")
	p := &position.Position{Available: 1000, CostPrice: 10.0, CurrentPrice: 10.5}
	if ok, _ := ValidateExit(sig, p); ok {
		t.Error("grid signal passed the risk exit gate")
	}
}
