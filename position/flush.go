package position

import (
	"sync"
	"time"

	"miniqmt/logger"
	"miniqmt/manager"
	"miniqmt/market"
	"miniqmt/store"
)

// FlushPolicy decides whether a flush pass may run. Injected so the
// live-vs-simulation choice lives in one place instead of boolean checks
// scattered through the flush path.
type FlushPolicy interface {
	ShouldFlush(now time.Time) bool
}

// LiveFlushPolicy flushes only while the market session is open
type LiveFlushPolicy struct{}

func (LiveFlushPolicy) ShouldFlush(now time.Time) bool {
	return market.IsSessionOpen(now)
}

// SimFlushPolicy never flushes; simulation runs keep state in memory only
type SimFlushPolicy struct{}

func (SimFlushPolicy) ShouldFlush(time.Time) bool {
	return false
}

// Flusher periodically writes the fast tier through to the durable tier
// and deletes durable rows for symbols that vanished from the book.
type Flusher struct {
	book     *Book
	store    *store.PositionStore
	policy   FlushPolicy
	interval time.Duration

	lastVersion uint64
	heartbeat   *manager.Heartbeat
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewFlusher creates a flush worker
func NewFlusher(book *Book, ps *store.PositionStore, policy FlushPolicy, interval time.Duration) *Flusher {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Flusher{
		book:      book,
		store:     ps,
		policy:    policy,
		interval:  interval,
		heartbeat: manager.NewHeartbeat(),
		stopCh:    make(chan struct{}),
	}
}

// Heartbeat exposes liveness for the supervisor
func (f *Flusher) Heartbeat() *manager.Heartbeat {
	return f.heartbeat
}

// Start launches the flush loop. Safe to call again after Stop.
func (f *Flusher) Start() {
	f.stopCh = make(chan struct{})
	f.wg.Add(1)
	go f.run(f.stopCh)
	logger.Info("💾 Position flush worker started")
}

// Stop signals the loop and waits up to 5s for it to exit
func (f *Flusher) Stop() {
	close(f.stopCh)
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("💾 Position flush worker did not stop in time")
	}
}

// run loops until stopCh closes; the channel is captured at Start so a
// restart cannot race the field reassignment against a previous loop.
func (f *Flusher) run(stopCh <-chan struct{}) {
	defer f.wg.Done()

	f.flushOnce()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			f.flushOnce()
		}
	}
}

// flushOnce performs one idempotent write-through pass
func (f *Flusher) flushOnce() {
	f.heartbeat.Beat()

	if !f.policy.ShouldFlush(time.Now()) {
		return
	}

	// cleanup first so a symbol that exited and re-entered between passes
	// still ends with a live row
	for _, symbol := range f.book.TakeVanished() {
		if err := f.store.Delete(symbol); err != nil {
			logger.Warnf("💾 Failed to delete durable row for %s: %v", symbol, err)
		} else {
			logger.Debugf("💾 Durable row removed: %s", symbol)
		}
	}

	version := f.book.Version()
	if version == f.lastVersion {
		return
	}

	flushed := 0
	for _, p := range f.book.List() {
		rec := &store.PositionRecord{
			Symbol:                  p.Symbol,
			Volume:                  p.Volume,
			Available:               p.Available,
			CostPrice:               p.CostPrice,
			CurrentPrice:            p.CurrentPrice,
			MarketValue:             p.MarketValue,
			ProfitRatio:             p.ProfitRatio,
			HighestPrice:            p.HighestPrice,
			StopLossPrice:           p.StopLossPrice,
			ProfitTriggered:         p.ProfitTriggered,
			ProfitBreakoutTriggered: p.ProfitBreakoutTriggered,
			BreakoutHighestPrice:    p.BreakoutHighestPrice,
			OpenDate:                p.OpenDate,
			LastUpdate:              p.LastUpdate,
		}
		if err := f.store.Upsert(rec); err != nil {
			logger.Warnf("💾 Failed to flush position %s: %v", p.Symbol, err)
			continue
		}
		flushed++
	}

	f.lastVersion = version
	if flushed > 0 {
		logger.Debugf("💾 Flushed %d positions (version %d)", flushed, version)
	}
}

// Restore loads durable rows into an empty book at startup. Locally owned
// fields come back from the durable tier so a restart does not reset the
// risk state machine.
func Restore(book *Book, ps *store.PositionStore) error {
	records, err := ps.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Volume <= 0 || rec.CostPrice <= 0 {
			continue
		}
		u := Update{
			Volume:                  Int64Ptr(rec.Volume),
			Available:               Int64Ptr(rec.Available),
			CostPrice:               Float64Ptr(rec.CostPrice),
			CurrentPrice:            Float64Ptr(rec.CurrentPrice),
			HighestPrice:            Float64Ptr(rec.HighestPrice),
			ProfitTriggered:         BoolPtr(rec.ProfitTriggered),
			ProfitBreakoutTriggered: BoolPtr(rec.ProfitBreakoutTriggered),
			BreakoutHighestPrice:    Float64Ptr(rec.BreakoutHighestPrice),
		}
		if err := book.Upsert(rec.Symbol, u); err != nil {
			logger.Warnf("💾 Skipping restore of %s: %v", rec.Symbol, err)
			continue
		}
		if rec.OpenDate != nil {
			book.setOpenDate(rec.Symbol, *rec.OpenDate)
		}
	}
	if n := book.Len(); n > 0 {
		logger.Infof("💾 Restored %d positions from durable store", n)
	}
	return nil
}
