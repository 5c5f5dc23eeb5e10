package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPositionStoreRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ps := st.Position()

	openDate := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	rec := &PositionRecord{
		Symbol:                  "000001.SZ",
		Volume:                  1000,
		Available:               800,
		CostPrice:               10.0,
		CurrentPrice:            10.5,
		MarketValue:             10500,
		ProfitRatio:             0.05,
		HighestPrice:            10.8,
		StopLossPrice:           9.3,
		ProfitTriggered:         true,
		ProfitBreakoutTriggered: true,
		BreakoutHighestPrice:    10.8,
		OpenDate:                &openDate,
		LastUpdate:              time.Now(),
	}
	require.NoError(t, ps.Upsert(rec))

	got, err := ps.Get("000001.SZ")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.Symbol, got.Symbol)
	require.Equal(t, rec.Volume, got.Volume)
	require.Equal(t, rec.Available, got.Available)
	require.True(t, got.ProfitTriggered)
	require.True(t, got.ProfitBreakoutTriggered)
	require.NotNil(t, got.OpenDate)
	require.True(t, got.OpenDate.Equal(openDate))
}

func TestPositionStoreGetAbsent(t *testing.T) {
	st := newTestStore(t)

	got, err := st.Position().Get("999999.SZ")
	require.NoError(t, err)
	require.Nil(t, got)
}

// A repeated upsert must replace the row, and a nil open date must not
// erase the one already stored.
func TestPositionStoreUpsertPreservesOpenDate(t *testing.T) {
	st := newTestStore(t)
	ps := st.Position()

	openDate := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	require.NoError(t, ps.Upsert(&PositionRecord{
		Symbol: "000001.SZ", Volume: 1000, Available: 1000,
		CostPrice: 10.0, OpenDate: &openDate, LastUpdate: time.Now(),
	}))

	// Flush pass without an open date
	require.NoError(t, ps.Upsert(&PositionRecord{
		Symbol: "000001.SZ", Volume: 400, Available: 400,
		CostPrice: 10.0, LastUpdate: time.Now(),
	}))

	got, err := ps.Get("000001.SZ")
	require.NoError(t, err)
	require.EqualValues(t, 400, got.Volume)
	require.NotNil(t, got.OpenDate, "open date erased by dateless upsert")
	require.True(t, got.OpenDate.Equal(openDate))
}

func TestPositionStoreListAndDelete(t *testing.T) {
	st := newTestStore(t)
	ps := st.Position()

	for _, symbol := range []string{"000001.SZ", "600519.SH"} {
		require.NoError(t, ps.Upsert(&PositionRecord{
			Symbol: symbol, Volume: 100, Available: 100,
			CostPrice: 10.0, LastUpdate: time.Now(),
		}))
	}

	list, err := ps.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, ps.Delete("000001.SZ"))
	list, err = ps.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "600519.SH", list[0].Symbol)
}

func TestGridStoreActiveFilter(t *testing.T) {
	st := newTestStore(t)
	gs := st.Grid()

	now := time.Now()
	active := &GridSessionRecord{
		Symbol: "000001.SZ", Status: "active",
		CenterPrice: 10.0, CurrentCenterPrice: 10.0, PriceInterval: 0.05,
		PositionRatio: 0.2, CallbackRatio: 0.005, MaxInvestment: 50000,
		MaxDeviation: 0.15, TargetProfit: 0.10, StopLoss: -0.08,
		StartTime: now, EndTime: now.Add(24 * time.Hour),
	}
	stopped := &GridSessionRecord{
		Symbol: "600519.SH", Status: "stopped", StopReason: "target_profit",
		CenterPrice: 1700, CurrentCenterPrice: 1720, PriceInterval: 0.03,
		PositionRatio: 0.2, CallbackRatio: 0.005, MaxInvestment: 100000,
		MaxDeviation: 0.10, TargetProfit: 0.05, StopLoss: -0.05,
		StartTime: now.Add(-48 * time.Hour), EndTime: now.Add(-24 * time.Hour),
	}
	require.NoError(t, gs.Upsert(active))
	require.NoError(t, gs.Upsert(stopped))

	actives, err := gs.ListActive()
	require.NoError(t, err)
	require.Len(t, actives, 1)
	require.Equal(t, "000001.SZ", actives[0].Symbol)

	all, err := gs.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestGridStoreUpsertUpdatesTotals(t *testing.T) {
	st := newTestStore(t)
	gs := st.Grid()

	now := time.Now()
	rec := &GridSessionRecord{
		Symbol: "000001.SZ", Status: "active",
		CenterPrice: 10.0, CurrentCenterPrice: 10.0, PriceInterval: 0.05,
		PositionRatio: 0.2, CallbackRatio: 0.005, MaxInvestment: 50000,
		MaxDeviation: 0.15, TargetProfit: 0.10, StopLoss: -0.08,
		StartTime: now, EndTime: now.Add(24 * time.Hour),
	}
	require.NoError(t, gs.Upsert(rec))

	rec.BuyCount = 2
	rec.TotalBuyAmount = 9800
	rec.TradeCount = 2
	rec.CurrentCenterPrice = 9.8
	require.NoError(t, gs.Upsert(rec))

	got, err := gs.Get("000001.SZ")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 2, got.BuyCount)
	require.Equal(t, 9800.0, got.TotalBuyAmount)
	require.Equal(t, 9.8, got.CurrentCenterPrice)
}

func TestEventStoreRecordAndRecent(t *testing.T) {
	st := newTestStore(t)
	es := st.Event()

	require.NoError(t, es.Record("000001.SZ", StageDetect, StatusOK, "stop_loss", "price 9.2 <= floor 9.3"))
	require.NoError(t, es.Record("000001.SZ", StageExecute, StatusFailed, "stop_loss", "gateway timeout"))
	require.NoError(t, es.Record("000001.SZ", StageExecute, StatusAbandoned, "stop_loss", "retry budget exhausted"))

	events, err := es.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// newest first
	require.Equal(t, StatusAbandoned, events[0].Status)
	require.Equal(t, StageDetect, events[2].Stage)

	limited, err := es.Recent(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestEventStorePrune(t *testing.T) {
	st := newTestStore(t)
	es := st.Event()

	require.NoError(t, es.Record("000001.SZ", StageDetect, StatusOK, "grid_buy", ""))

	// Nothing is older than a generous retention window
	n, err := es.Prune(24 * time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	// A negative window pushes the cutoff past now and removes everything
	n, err = es.Prune(-time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	events, err := es.Recent(10)
	require.NoError(t, err)
	require.Empty(t, events)
}
