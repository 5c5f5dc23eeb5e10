package position

import (
	"errors"
	"sync"
	"time"

	"miniqmt/logger"
)

// ErrReconcileRejected returned when an external snapshot looks like a
// transient upstream failure rather than a real state change
var ErrReconcileRejected = errors.New("reconcile rejected: implausible external snapshot")

// minSnapshotRatio below this fraction of the local symbol count an
// external snapshot is treated as corrupt
const minSnapshotRatio = 0.3

// StopLossFunc recomputes the stop-loss floor for a position.
// Injected by the risk engine so the book carries no tier table of its own.
type StopLossFunc func(p *Position) float64

// Book the fast tier: per-symbol positions behind one mutex with a
// monotonic version counter for cheap change detection.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
	version   uint64
	stopLoss  StopLossFunc

	// symbols removed locally or vanished from a broker snapshot; the
	// flush worker drains this to clean up durable rows
	vanished map[string]struct{}
}

// NewBook creates an empty book. stopLoss may be nil, in which case
// StopLossPrice is left untouched on mutation.
func NewBook(stopLoss StopLossFunc) *Book {
	return &Book{
		positions: make(map[string]*Position),
		stopLoss:  stopLoss,
		vanished:  make(map[string]struct{}),
	}
}

// Version current mutation counter
func (b *Book) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Get returns a copy of the position for symbol, or nil when absent
func (b *Book) Get(symbol string) *Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[symbol]; ok {
		return p.clone()
	}
	return nil
}

// List returns copies of all positions
func (b *Book) List() []*Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p.clone())
	}
	return out
}

// Len number of held symbols
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Upsert applies a partial update to symbol, creating the position on
// first sight. Unspecified fields are preserved, derived fields and the
// stop-loss floor are recomputed, and the version is bumped exactly once.
// A volume update reaching zero deletes the position (full exit).
func (b *Book) Upsert(symbol string, u Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.positions[symbol]
	if !exists {
		if u.Volume == nil || u.CostPrice == nil {
			return errors.New("new position requires volume and cost price")
		}
		available := *u.Volume
		if u.Available != nil {
			available = *u.Available
		}
		currentPrice := *u.CostPrice
		if u.CurrentPrice != nil {
			currentPrice = *u.CurrentPrice
		}
		created, err := NewPosition(symbol, *u.Volume, available, *u.CostPrice, currentPrice)
		if err != nil {
			return err
		}
		p = created
		b.positions[symbol] = p
	}

	if u.Volume != nil {
		p.Volume = *u.Volume
	}
	if u.Available != nil {
		p.Available = *u.Available
	}
	if p.Available > p.Volume {
		p.Available = p.Volume
	}
	if p.Available < 0 {
		p.Available = 0
	}
	if u.CostPrice != nil && *u.CostPrice > 0 {
		p.CostPrice = *u.CostPrice
	}
	if u.CurrentPrice != nil && *u.CurrentPrice > 0 {
		p.CurrentPrice = *u.CurrentPrice
	}
	if u.HighestPrice != nil && *u.HighestPrice > p.HighestPrice {
		p.HighestPrice = *u.HighestPrice
	}
	if p.CurrentPrice > p.HighestPrice {
		p.HighestPrice = p.CurrentPrice
	}
	if u.ProfitTriggered != nil {
		p.ProfitTriggered = *u.ProfitTriggered
	}
	if u.ProfitBreakoutTriggered != nil {
		p.ProfitBreakoutTriggered = *u.ProfitBreakoutTriggered
	}
	if u.BreakoutHighestPrice != nil {
		p.BreakoutHighestPrice = *u.BreakoutHighestPrice
	}

	if p.Volume <= 0 {
		// full exit
		delete(b.positions, symbol)
		b.vanished[symbol] = struct{}{}
		b.version++
		logger.Infof("📕 Position closed out: %s", symbol)
		return nil
	}

	p.refreshDerived()
	if b.stopLoss != nil {
		p.StopLossPrice = b.stopLoss(p)
	}
	p.LastUpdate = time.Now()
	b.version++
	p.Version = b.version
	return nil
}

// Remove deletes the position for symbol
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[symbol]; !ok {
		return
	}
	delete(b.positions, symbol)
	b.vanished[symbol] = struct{}{}
	b.version++
}

// Reconcile merges a broker-reported snapshot into the book field by field.
// Locally owned risk state (open date, profit flags, highest price) is
// preserved; symbols missing from the snapshot are removed and queued for
// durable cleanup.
//
// The snapshot is rejected outright when it is empty while the book is not,
// or when it covers less than 30% of the local symbols — both patterns mean
// a transient upstream failure, not a real state change.
func (b *Book) Reconcile(snapshot []BrokerPosition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.positions) > 0 {
		if len(snapshot) == 0 {
			logger.Warnf("⚠️  Reconcile rejected: empty snapshot against %d local positions", len(b.positions))
			return ErrReconcileRejected
		}
		if float64(len(snapshot)) < minSnapshotRatio*float64(len(b.positions)) {
			logger.Warnf("⚠️  Reconcile rejected: snapshot has %d symbols, local has %d", len(snapshot), len(b.positions))
			return ErrReconcileRejected
		}
	}

	seen := make(map[string]struct{}, len(snapshot))
	for _, ext := range snapshot {
		if ext.Symbol == "" || ext.Volume <= 0 || ext.CostPrice <= 0 {
			continue
		}
		seen[ext.Symbol] = struct{}{}

		p, ok := b.positions[ext.Symbol]
		if !ok {
			currentPrice := ext.CostPrice
			if ext.Volume > 0 && ext.MarketValue > 0 {
				currentPrice = ext.MarketValue / float64(ext.Volume)
			}
			created, err := NewPosition(ext.Symbol, ext.Volume, ext.Available, ext.CostPrice, currentPrice)
			if err != nil {
				logger.Warnf("⚠️  Skipping malformed broker position %s: %v", ext.Symbol, err)
				continue
			}
			b.positions[ext.Symbol] = created
			if b.stopLoss != nil {
				created.StopLossPrice = b.stopLoss(created)
			}
			logger.Infof("📗 Position discovered from broker snapshot: %s vol=%d cost=%.3f", ext.Symbol, ext.Volume, ext.CostPrice)
			continue
		}

		// field-wise merge, never blind overwrite
		p.Volume = ext.Volume
		p.Available = ext.Available
		if p.Available > p.Volume {
			p.Available = p.Volume
		}
		if p.Available < 0 {
			p.Available = 0
		}
		p.CostPrice = ext.CostPrice
		if ext.Volume > 0 && ext.MarketValue > 0 {
			p.CurrentPrice = ext.MarketValue / float64(ext.Volume)
			p.MarketValue = ext.MarketValue
		}
		if p.CurrentPrice > p.HighestPrice {
			p.HighestPrice = p.CurrentPrice
		}
		p.refreshDerived()
		if b.stopLoss != nil {
			p.StopLossPrice = b.stopLoss(p)
		}
		p.LastUpdate = time.Now()
	}

	for symbol := range b.positions {
		if _, ok := seen[symbol]; !ok {
			delete(b.positions, symbol)
			b.vanished[symbol] = struct{}{}
			logger.Infof("📕 Position gone from broker snapshot, removed: %s", symbol)
		}
	}

	b.version++
	return nil
}

// setOpenDate restores the original open date after a durable-tier reload;
// Upsert never touches it so a re-sync cannot reset it
func (b *Book) setOpenDate(symbol string, d time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[symbol]; ok {
		p.OpenDate = &d
	}
}

// TakeVanished drains the set of symbols whose durable rows need cleanup
func (b *Book) TakeVanished() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.vanished) == 0 {
		return nil
	}
	out := make([]string, 0, len(b.vanished))
	for s := range b.vanished {
		out = append(out, s)
	}
	b.vanished = make(map[string]struct{})
	return out
}
