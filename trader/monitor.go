package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"miniqmt/config"
	"miniqmt/grid"
	"miniqmt/logger"
	"miniqmt/manager"
	"miniqmt/market"
	"miniqmt/position"
	"miniqmt/risk"
	"miniqmt/signal"
	"miniqmt/store"
)

// reconcileEveryTicks snapshot cadence relative to monitor ticks
const reconcileEveryTicks = 20

// Monitor the detection worker. Each tick it pulls the latest quote for
// every watched symbol, pushes the price through the risk and grid engines,
// and posts whatever signals come back. Periodically it reconciles the book
// against the gateway's authoritative snapshot.
type Monitor struct {
	provider *config.Provider
	source   market.Source
	gateway  Gateway
	book     *position.Book
	riskEng  *risk.Engine
	gridEng  *grid.Engine
	broker   *signal.Broker
	events   *store.EventStore

	heartbeat *manager.Heartbeat
	stopCh    chan struct{}
	wg        sync.WaitGroup
	ticks     int

	mutedMu sync.RWMutex
	muted   map[string]bool
}

func NewMonitor(provider *config.Provider, source market.Source, gateway Gateway,
	book *position.Book, riskEng *risk.Engine, gridEng *grid.Engine,
	broker *signal.Broker, events *store.EventStore) *Monitor {
	return &Monitor{
		provider:  provider,
		source:    source,
		gateway:   gateway,
		book:      book,
		riskEng:   riskEng,
		gridEng:   gridEng,
		broker:    broker,
		events:    events,
		heartbeat: manager.NewHeartbeat(),
		stopCh:    make(chan struct{}),
		muted:     make(map[string]bool),
	}
}

func (m *Monitor) Heartbeat() *manager.Heartbeat { return m.heartbeat }

// SetMonitoring enables or disables detection for a symbol. Muted symbols
// stay in the book and keep flushing; they just stop producing signals.
func (m *Monitor) SetMonitoring(symbol string, enabled bool) {
	m.mutedMu.Lock()
	defer m.mutedMu.Unlock()
	if enabled {
		delete(m.muted, symbol)
	} else {
		m.muted[symbol] = true
	}
}

// Monitored reports whether detection is enabled for symbol.
func (m *Monitor) Monitored(symbol string) bool {
	m.mutedMu.RLock()
	defer m.mutedMu.RUnlock()
	return !m.muted[symbol]
}

// Start launches the monitor loop. Safe to call again after Stop.
func (m *Monitor) Start() {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stopCh)
	logger.Infof("📊 Position monitor started (interval %v)", m.provider.Current().Monitor.TickInterval)
}

// Stop signals the loop and waits up to 5s for it to drain
func (m *Monitor) Stop() {
	close(m.stopCh)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warnf("⚠️  Position monitor did not stop within 5s")
	}
}

// run loops until stopCh closes. The channel is passed in rather than read
// from the field so a restart reassigning stopCh cannot race with, or leak,
// a loop still draining from a previous generation.
func (m *Monitor) run(stopCh <-chan struct{}) {
	defer m.wg.Done()

	m.tick()
	ticker := time.NewTicker(m.provider.Current().Monitor.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.heartbeat.Beat()

	snap := m.provider.Current()
	if !snap.SimulationMode {
		now := time.Now()
		if !market.IsTradingDay(now) || !market.IsSessionOpen(now) {
			return
		}
	}

	for _, symbol := range m.watchlist(snap) {
		m.evaluateSymbol(snap, symbol)
	}

	m.ticks++
	if m.ticks%reconcileEveryTicks == 0 {
		m.reconcile(snap)
	}
}

// watchlist configured symbols plus anything held or gridded
func (m *Monitor) watchlist(snap *config.Snapshot) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(symbol string) {
		if symbol != "" && !seen[symbol] && m.Monitored(symbol) {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	for _, s := range snap.Symbols {
		add(s)
	}
	for _, p := range m.book.List() {
		add(p.Symbol)
	}
	for _, s := range m.gridEng.Sessions() {
		if s.Active() {
			add(s.Symbol)
		}
	}
	return out
}

func (m *Monitor) evaluateSymbol(snap *config.Snapshot, symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), snap.Monitor.CallTimeout)
	tick, err := m.source.LatestTick(ctx, symbol)
	cancel()
	if err != nil {
		logger.Warnf("⚠️  Quote fetch failed for %s: %v", symbol, err)
		return
	}
	if tick == nil || tick.LastPrice <= 0 {
		return
	}

	// At most one action per symbol per cycle. A risk exit wins the cycle
	// outright; letting the grid run too would overwrite it in the broker's
	// per-symbol mailbox.
	if sig := m.riskEng.Evaluate(m.book, symbol, tick.LastPrice); sig != nil {
		m.postSignal(sig)
		return
	}
	if sig := m.gridEng.Evaluate(symbol, tick.LastPrice); sig != nil {
		m.postSignal(sig)
	}
}

func (m *Monitor) postSignal(sig *signal.Signal) {
	m.broker.Post(sig)
	m.recordEvent(sig.Symbol, store.StageDetect, store.StatusOK, string(sig.Type),
		fmt.Sprintf("price=%.3f volume=%d %s", sig.Price, sig.Volume, sig.Reason))
}

func (m *Monitor) reconcile(snap *config.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), snap.Monitor.CallTimeout)
	broker, err := m.gateway.PositionsSnapshot(ctx)
	cancel()
	if err != nil {
		logger.Warnf("⚠️  Positions snapshot failed, skipping reconcile: %v", err)
		return
	}

	if err := m.book.Reconcile(broker); err != nil {
		if errors.Is(err, position.ErrReconcileRejected) {
			m.recordEvent("", store.StageReconcile, store.StatusRejected, "snapshot_guard", err.Error())
		}
		logger.Warnf("⚠️  Reconcile rejected: %v", err)
		return
	}
	logger.Debugf("📊 Reconciled %d broker positions (book version %d)", len(broker), m.book.Version())
}

func (m *Monitor) recordEvent(symbol, stage, status, reason, details string) {
	if m.events == nil {
		return
	}
	if err := m.events.Record(symbol, stage, status, reason, details); err != nil {
		logger.Warnf("⚠️  Failed to record %s event: %v", stage, err)
	}
}
