package trader

import (
	"testing"
	"time"

	"miniqmt/config"
	"miniqmt/grid"
	"miniqmt/market"
	"miniqmt/position"
	"miniqmt/risk"
	"miniqmt/signal"
)

type monitorFixture struct {
	provider *config.Provider
	source   *market.SimSource
	gateway  *PaperGateway
	book     *position.Book
	gridEng  *grid.Engine
	broker   *signal.Broker
	monitor  *Monitor
}

func newMonitorFixture() *monitorFixture {
	cfg := config.Default()
	riskEng := risk.NewEngine(cfg.Risk)

	f := &monitorFixture{
		provider: config.NewProvider(cfg),
		source:   market.NewSimSource(),
		gateway:  NewPaperGateway(),
		broker:   signal.NewBroker(),
	}
	f.book = position.NewBook(riskEng.Floor)
	f.gridEng = grid.NewEngine(f.book, nil)
	f.monitor = NewMonitor(f.provider, f.source, f.gateway, f.book, riskEng, f.gridEng, f.broker, nil)
	return f
}

func TestMonitorDetectsStopLoss(t *testing.T) {
	f := newMonitorFixture()
	err := f.book.Upsert("000001.SZ", position.Update{
		Volume:    position.Int64Ptr(1000),
		CostPrice: position.Float64Ptr(10.0),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 9.2 breaches the default -7% floor at 9.3
	f.source.Push("000001.SZ", 9.2)
	f.monitor.tick()

	pending := f.broker.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Signal.Type != signal.TypeStopLoss {
		t.Errorf("signal type = %s, want stop_loss", pending[0].Signal.Type)
	}
}

func TestMonitorDetectsGridSignal(t *testing.T) {
	f := newMonitorFixture()
	_, err := f.gridEng.StartSession(grid.Params{
		Symbol:        "600519.SH",
		CenterPrice:   10.0,
		PriceInterval: 0.05,
		PositionRatio: 0.2,
		CallbackRatio: 0.005,
		MaxInvestment: 50000,
		MaxDeviation:  0.15,
		TargetProfit:  0.10,
		StopLoss:      -0.08,
		Duration:      24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// Cross below the 9.5 lower bound, then rebound past the callback
	for _, price := range []float64{9.60, 9.40, 9.30, 9.40} {
		f.source.Push("600519.SH", price)
		f.monitor.tick()
	}

	pending := f.broker.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Signal.Type != signal.TypeGridBuy {
		t.Errorf("signal type = %s, want grid_buy", pending[0].Signal.Type)
	}
}

func TestMonitorStopLossWinsOverGridSignal(t *testing.T) {
	f := newMonitorFixture()
	err := f.book.Upsert("000001.SZ", position.Update{
		Volume:    position.Int64Ptr(1000),
		CostPrice: position.Float64Ptr(10.0),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = f.gridEng.StartSession(grid.Params{
		Symbol:        "000001.SZ",
		CenterPrice:   10.0,
		PriceInterval: 0.05,
		PositionRatio: 0.2,
		CallbackRatio: 0.005,
		MaxInvestment: 50000,
		MaxDeviation:  0.15,
		TargetProfit:  0.10,
		StopLoss:      -0.08,
		Duration:      24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// 9.00 breaches the 9.30 floor and dips below the grid band; the 9.29
	// rebound would confirm a grid buy in the same cycle the floor is still
	// breached. The stop-loss must hold the mailbox, not get overwritten.
	for _, price := range []float64{9.40, 9.00, 9.29} {
		f.source.Push("000001.SZ", price)
		f.monitor.tick()
	}

	pending := f.broker.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Signal.Type != signal.TypeStopLoss {
		t.Errorf("signal type = %s, want stop_loss", pending[0].Signal.Type)
	}
}

func TestMonitorQuietWithoutQuotes(t *testing.T) {
	f := newMonitorFixture()
	err := f.book.Upsert("000001.SZ", position.Update{
		Volume:    position.Int64Ptr(1000),
		CostPrice: position.Float64Ptr(10.0),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// No tick pushed for the symbol: the cycle must pass without signals
	f.monitor.tick()
	if f.broker.Len() != 0 {
		t.Errorf("signals without quotes: %d", f.broker.Len())
	}
}

func TestMonitorMutedSymbolSkipped(t *testing.T) {
	f := newMonitorFixture()
	err := f.book.Upsert("000001.SZ", position.Update{
		Volume:    position.Int64Ptr(1000),
		CostPrice: position.Float64Ptr(10.0),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.source.Push("000001.SZ", 9.2)

	f.monitor.SetMonitoring("000001.SZ", false)
	f.monitor.tick()
	if f.broker.Len() != 0 {
		t.Fatalf("muted symbol produced %d signals", f.broker.Len())
	}

	f.monitor.SetMonitoring("000001.SZ", true)
	if !f.monitor.Monitored("000001.SZ") {
		t.Fatal("symbol still muted after re-enable")
	}
	f.monitor.tick()
	if f.broker.Len() != 1 {
		t.Fatalf("re-enabled symbol produced %d signals, want 1", f.broker.Len())
	}
}

func TestMonitorHeartbeatBeats(t *testing.T) {
	f := newMonitorFixture()
	before := f.monitor.Heartbeat().Last()
	f.monitor.tick()
	if !f.monitor.Heartbeat().Last().After(before) {
		t.Error("tick did not advance the heartbeat")
	}
}
