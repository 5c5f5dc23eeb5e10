package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"miniqmt/config"
	"miniqmt/grid"
	"miniqmt/logger"
	"miniqmt/manager"
	"miniqmt/position"
	"miniqmt/risk"
	"miniqmt/signal"
	"miniqmt/store"
)

// Notifier out-of-band alerting for events a human must see
type Notifier interface {
	Alert(text string)
}

// Executor the execution worker. Each cycle it drains valid signals from the
// broker, re-validates each against current state, and submits the survivors
// through the gateway. Fills flow back through the gateway handler into the
// book and the grid engine.
type Executor struct {
	provider *config.Provider
	gateway  Gateway
	book     *position.Book
	gridEng  *grid.Engine
	broker   *signal.Broker
	events   *store.EventStore
	notifier Notifier

	heartbeat *manager.Heartbeat
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewExecutor(provider *config.Provider, gateway Gateway, book *position.Book,
	gridEng *grid.Engine, broker *signal.Broker, events *store.EventStore,
	notifier Notifier) *Executor {
	e := &Executor{
		provider:  provider,
		gateway:   gateway,
		book:      book,
		gridEng:   gridEng,
		broker:    broker,
		events:    events,
		notifier:  notifier,
		heartbeat: manager.NewHeartbeat(),
		stopCh:    make(chan struct{}),
	}
	gateway.SetFillHandler(e.onFill)
	return e
}

func (e *Executor) Heartbeat() *manager.Heartbeat { return e.heartbeat }

// Start launches the execution loop. Safe to call again after Stop.
func (e *Executor) Start() {
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.run(e.stopCh)
	logger.Infof("🚀 Signal executor started (interval %v)", e.provider.Current().Monitor.ExecuteInterval)
}

func (e *Executor) Stop() {
	close(e.stopCh)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warnf("⚠️  Signal executor did not stop within 5s")
	}
}

// run loops until stopCh closes; the channel is captured at Start so a
// restart cannot race the field reassignment against a previous loop.
func (e *Executor) run(stopCh <-chan struct{}) {
	defer e.wg.Done()

	e.cycle()
	ticker := time.NewTicker(e.provider.Current().Monitor.ExecuteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.cycle()
		}
	}
}

func (e *Executor) cycle() {
	e.heartbeat.Beat()

	snap := e.provider.Current()
	for _, sig := range e.broker.DrainValid() {
		e.execute(snap, sig)
	}
}

func (e *Executor) execute(snap *config.Snapshot, sig *signal.Signal) {
	if ok, reason := e.revalidate(sig); !ok {
		e.broker.Clear(sig.Symbol)
		e.recordEvent(sig.Symbol, store.StageValidate, store.StatusRejected, string(sig.Type), reason)
		logger.Warnf("🚫 Signal rejected on re-validation: %s %s: %s", sig.Symbol, sig.Type, reason)
		return
	}

	if !snap.AutoTrading {
		e.broker.Clear(sig.Symbol)
		e.recordEvent(sig.Symbol, store.StageExecute, store.StatusOK, string(sig.Type), "auto trading off, notified only")
		e.alert(fmt.Sprintf("🔔 Signal (manual mode): %s %s %d @ %.3f\n%s",
			sig.Symbol, sig.Type, sig.Volume, sig.Price, sig.Reason))
		return
	}

	ok, abandoned := e.broker.BeginAttempt(sig.Symbol, sig.ID)
	if abandoned {
		e.recordEvent(sig.Symbol, store.StageExecute, store.StatusAbandoned, string(sig.Type),
			fmt.Sprintf("retry budget exhausted at price %.3f", sig.Price))
		e.alert(fmt.Sprintf("⚠️ Signal abandoned after repeated failures: %s %s %d @ %.3f",
			sig.Symbol, sig.Type, sig.Volume, sig.Price))
		logger.Errorf("❌ Signal abandoned: %s %s", sig.Symbol, sig.Type)
		return
	}
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snap.Monitor.CallTimeout)
	var err error
	if sig.Type.IsSell() {
		err = e.gateway.SubmitSell(ctx, sig.Symbol, sig.Price, sig.Volume, string(sig.Type))
	} else {
		err = e.gateway.SubmitBuy(ctx, sig.Symbol, sig.Price, sig.Volume, string(sig.Type))
	}
	cancel()

	if err != nil {
		e.broker.MarkFailed(sig.Symbol, sig.ID)
		e.recordEvent(sig.Symbol, store.StageExecute, store.StatusFailed, string(sig.Type), err.Error())
		logger.Warnf("⚠️  Order submission failed for %s %s: %v", sig.Symbol, sig.Type, err)
		return
	}

	e.broker.MarkExecuted(sig.Symbol, sig.ID)
	e.recordEvent(sig.Symbol, store.StageExecute, store.StatusOK, string(sig.Type),
		fmt.Sprintf("submitted %d @ %.3f", sig.Volume, sig.Price))
	if sig.Type.IsRiskExit() {
		e.alert(fmt.Sprintf("✅ Risk exit submitted: %s %s %d @ %.3f\n%s",
			sig.Symbol, sig.Type, sig.Volume, sig.Price, sig.Reason))
	}
	logger.Infof("✅ Order submitted: %s %s %d @ %.3f", sig.Symbol, sig.Type, sig.Volume, sig.Price)
}

// revalidate second-pass gate against state as of execution time, not
// detection time
func (e *Executor) revalidate(sig *signal.Signal) (bool, string) {
	p := e.book.Get(sig.Symbol)

	if sig.Type.IsRiskExit() {
		if p == nil {
			return false, "position no longer held"
		}
		return risk.ValidateExit(sig, p)
	}

	// Grid signals require a live session
	s := e.gridEng.Session(sig.Symbol)
	if s == nil || !s.Active() {
		return false, "grid session no longer active"
	}
	if sig.Type.IsSell() {
		if p == nil || p.Available < sig.Volume {
			return false, "insufficient available shares for grid sell"
		}
	}
	return true, ""
}

// onFill applies a confirmed fill to the book and, for grid-tagged fills
// only, to the grid session. Risk exits and manual terminal trades must not
// move grid session totals or recenter its band.
// Buys stay unavailable until the next session (T+1).
func (e *Executor) onFill(f Fill) {
	p := e.book.Get(f.Symbol)

	var u position.Update
	if f.IsBuy {
		var oldVolume, oldAvailable int64
		var oldCost float64
		if p != nil {
			oldVolume, oldAvailable, oldCost = p.Volume, p.Available, p.CostPrice
		}
		newVolume := oldVolume + f.Volume
		newCost := (oldCost*float64(oldVolume) + f.Price*float64(f.Volume)) / float64(newVolume)
		u.Volume = position.Int64Ptr(newVolume)
		u.Available = position.Int64Ptr(oldAvailable)
		u.CostPrice = position.Float64Ptr(newCost)
		u.CurrentPrice = position.Float64Ptr(f.Price)
	} else {
		if p == nil {
			logger.Warnf("⚠️  Sell fill for unknown position %s, ignoring", f.Symbol)
			return
		}
		u.Volume = position.Int64Ptr(p.Volume - f.Volume)
		u.Available = position.Int64Ptr(p.Available - f.Volume)
		u.CurrentPrice = position.Float64Ptr(f.Price)
	}

	if err := e.book.Upsert(f.Symbol, u); err != nil {
		logger.Errorf("❌ Failed to apply fill for %s: %v", f.Symbol, err)
		return
	}

	if t := signal.Type(f.Tag); t == signal.TypeGridBuy || t == signal.TypeGridSell {
		e.gridEng.OnFill(f.Symbol, f.IsBuy, f.Price, f.Volume)
	}
	logger.Infof("💰 Fill applied: %s %s %d @ %.3f", f.Symbol, sideOf(f.IsBuy), f.Volume, f.Price)
}

func sideOf(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

func (e *Executor) alert(text string) {
	if e.notifier != nil {
		e.notifier.Alert(text)
	}
}

func (e *Executor) recordEvent(symbol, stage, status, reason, details string) {
	if e.events == nil {
		return
	}
	if err := e.events.Record(symbol, stage, status, reason, details); err != nil {
		logger.Warnf("⚠️  Failed to record %s event: %v", stage, err)
	}
}
