package grid

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"miniqmt/logger"
	"miniqmt/position"
	"miniqmt/signal"
	"miniqmt/store"
)

// ExitReason why a session terminated, highest priority first
type ExitReason string

const (
	ExitNone            ExitReason = ""
	ExitDeviation       ExitReason = "deviation"
	ExitTargetProfit    ExitReason = "target_profit"
	ExitStopLoss        ExitReason = "stop_loss"
	ExitExpired         ExitReason = "expired"
	ExitPositionCleared ExitReason = "position_cleared"
)

// lotSize A-share board lot
const lotSize = 100

// Engine runs grid signal detection and exit evaluation across sessions.
// One tracker per session; both live and die with the session.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*Session
	trackers map[string]*Tracker

	book      *position.Book
	gridStore *store.GridStore
	now       func() time.Time // injectable clock for expiry tests
}

// NewEngine creates a grid engine over the shared book and durable store.
// gridStore may be nil in tests.
func NewEngine(book *position.Book, gridStore *store.GridStore) *Engine {
	return &Engine{
		sessions:  make(map[string]*Session),
		trackers:  make(map[string]*Tracker),
		book:      book,
		gridStore: gridStore,
		now:       time.Now,
	}
}

// RestoreSessions reloads active sessions from the durable store at startup
func (e *Engine) RestoreSessions() error {
	if e.gridStore == nil {
		return nil
	}
	records, err := e.gridStore.ListActive()
	if err != nil {
		return fmt.Errorf("failed to restore grid sessions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		s := sessionFromRecord(rec)
		e.sessions[s.Symbol] = s
		e.trackers[s.Symbol] = NewTracker()
	}
	if len(records) > 0 {
		logger.Infof("♻️  Restored %d active grid sessions", len(records))
	}
	return nil
}

// StartSession creates and persists a session for params.Symbol.
// A symbol can run at most one session.
func (e *Engine) StartSession(p Params) (*Session, error) {
	s, err := NewSession(p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.sessions[p.Symbol]; ok && prev.Active() {
		return nil, fmt.Errorf("grid session already active for %s", p.Symbol)
	}
	e.sessions[p.Symbol] = s
	e.trackers[p.Symbol] = NewTracker()
	e.persistLocked(s)

	logger.Infof("▶️  Grid session started: %s center=%.3f interval=%.1f%% max_inv=%.0f",
		s.Symbol, s.CenterPrice, s.PriceInterval*100, s.MaxInvestment)
	return s, nil
}

// StopSession terminates the session for symbol with a reason
func (e *Engine) StopSession(symbol string, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[symbol]
	if !ok {
		return fmt.Errorf("no grid session for %s", symbol)
	}
	if !s.Active() {
		return nil
	}

	s.Stop(reason)
	delete(e.trackers, symbol)
	e.persistLocked(s)

	logger.Infof("⏹️  Grid session stopped: %s reason=%s profit=%.2f%% trades=%d",
		symbol, reason, s.ProfitRatio()*100, s.TradeCount)
	return nil
}

// Session returns a copy of the session for symbol, or nil
func (e *Engine) Session(symbol string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[symbol]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// Sessions returns copies of all sessions
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// Evaluate runs one grid cycle for symbol at price: exit conditions first,
// then tracker-confirmed signal detection. Returns at most one signal.
// Never panics out of the call.
func (e *Engine) Evaluate(symbol string, price float64) (sig *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("⚠️  Grid evaluation panic for %s: %v", symbol, r)
			sig = nil
		}
	}()
	return e.evaluate(symbol, price)
}

func (e *Engine) evaluate(symbol string, price float64) *signal.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[symbol]
	if !ok || !s.Active() || price <= 0 {
		return nil
	}

	var posVolume, posAvailable int64
	if p := e.book.Get(symbol); p != nil {
		posVolume = p.Volume
		posAvailable = p.Available
	}

	if reason := e.checkExitLocked(s, price, posVolume); reason != ExitNone {
		s.Stop(string(reason))
		delete(e.trackers, symbol)
		e.persistLocked(s)
		logger.Infof("⏹️  Grid exit condition fired: %s reason=%s price=%.3f", symbol, reason, price)
		return nil
	}

	tracker := e.trackers[symbol]
	if tracker == nil {
		tracker = NewTracker()
		e.trackers[symbol] = tracker
	}

	lower, upper := s.Bounds()
	switch tracker.Observe(price, lower, upper, s.CallbackRatio) {
	case EventSell:
		volume := tradeVolume(s.PositionRatio, s.MaxInvestment, price)
		if volume > posAvailable {
			volume = posAvailable / lotSize * lotSize
		}
		if volume <= 0 {
			logger.Infof("🔲 Grid sell confirmed for %s but nothing sellable, skipping", symbol)
			return nil
		}
		return signal.New(symbol, signal.TypeGridSell, price, volume,
			fmt.Sprintf("callback from peak above band [%.3f, %.3f]", lower, upper))

	case EventBuy:
		volume := tradeVolume(s.PositionRatio, s.MaxInvestment, price)
		if remaining := s.MaxInvestment - s.CurrentInvestment; price*float64(volume) > remaining {
			volume = tradeVolume(1, remaining, price)
		}
		if volume <= 0 {
			logger.Infof("🔲 Grid buy confirmed for %s but investment cap reached, skipping", symbol)
			return nil
		}
		return signal.New(symbol, signal.TypeGridBuy, price, volume,
			fmt.Sprintf("rebound from valley below band [%.3f, %.3f]", lower, upper))
	}

	return nil
}

// CheckExit evaluates the exit ladder without mutating state.
// Exposed for the API layer; Evaluate uses the same ladder internally.
func (e *Engine) CheckExit(symbol string, price float64) ExitReason {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[symbol]
	if !ok || !s.Active() {
		return ExitNone
	}
	var posVolume int64
	if p := e.book.Get(symbol); p != nil {
		posVolume = p.Volume
	}
	return e.checkExitLocked(s, price, posVolume)
}

// checkExitLocked first match wins, descending priority
func (e *Engine) checkExitLocked(s *Session, price float64, posVolume int64) ExitReason {
	if s.Deviation(price) > s.MaxDeviation {
		return ExitDeviation
	}

	profit := s.ProfitRatio()
	if profit >= s.TargetProfit {
		return ExitTargetProfit
	}
	if profit <= s.StopLoss {
		return ExitStopLoss
	}

	if e.now().After(s.EndTime) {
		return ExitExpired
	}

	if s.TradeCount > 0 && posVolume == 0 {
		return ExitPositionCleared
	}

	return ExitNone
}

// OnFill applies a confirmed grid fill: session totals, recenter, persist
func (e *Engine) OnFill(symbol string, isBuy bool, price float64, volume int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[symbol]
	if !ok {
		return
	}
	s.RecordFill(isBuy, price, volume)
	e.persistLocked(s)

	side := "sell"
	if isBuy {
		side = "buy"
	}
	logger.Infof("🔲 Grid fill %s %s %d @ %.3f, recentered to %.3f (profit %.2f%%)",
		symbol, side, volume, price, s.CurrentCenterPrice, s.ProfitRatio()*100)
}

func (e *Engine) persistLocked(s *Session) {
	if e.gridStore == nil {
		return
	}
	if err := e.gridStore.Upsert(recordFromSession(s)); err != nil {
		logger.Warnf("⚠️  Failed to persist grid session %s: %v", s.Symbol, err)
	}
}

// tradeVolume shares for one grid trade: floor(ratio × investment / price)
// to a whole board lot. decimal keeps the division exact so a price like
// 3.07 cannot round a lot boundary the wrong way.
func tradeVolume(ratio, investment, price float64) int64 {
	if ratio <= 0 || investment <= 0 || price <= 0 {
		return 0
	}
	shares := decimal.NewFromFloat(ratio * investment).
		Div(decimal.NewFromFloat(price)).
		Div(decimal.NewFromInt(lotSize)).
		Floor().
		Mul(decimal.NewFromInt(lotSize))
	return shares.IntPart()
}

func recordFromSession(s *Session) *store.GridSessionRecord {
	rec := &store.GridSessionRecord{
		Symbol:             s.Symbol,
		Status:             s.Status,
		CenterPrice:        s.CenterPrice,
		CurrentCenterPrice: s.CurrentCenterPrice,
		PriceInterval:      s.PriceInterval,
		PositionRatio:      s.PositionRatio,
		CallbackRatio:      s.CallbackRatio,
		MaxInvestment:      s.MaxInvestment,
		CurrentInvestment:  s.CurrentInvestment,
		MaxDeviation:       s.MaxDeviation,
		TargetProfit:       s.TargetProfit,
		StopLoss:           s.StopLoss,
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		StopReason:         s.StopReason,
		BuyCount:           s.BuyCount,
		SellCount:          s.SellCount,
		TotalBuyAmount:     s.TotalBuyAmount,
		TotalSellAmount:    s.TotalSellAmount,
		TradeCount:         s.TradeCount,
	}
	if s.Status == StatusStopped {
		now := time.Now()
		rec.StoppedAt = &now
	}
	return rec
}

func sessionFromRecord(rec *store.GridSessionRecord) *Session {
	return &Session{
		Symbol:             rec.Symbol,
		Status:             rec.Status,
		CenterPrice:        rec.CenterPrice,
		CurrentCenterPrice: rec.CurrentCenterPrice,
		PriceInterval:      rec.PriceInterval,
		PositionRatio:      rec.PositionRatio,
		CallbackRatio:      rec.CallbackRatio,
		MaxInvestment:      rec.MaxInvestment,
		CurrentInvestment:  rec.CurrentInvestment,
		MaxDeviation:       rec.MaxDeviation,
		TargetProfit:       rec.TargetProfit,
		StopLoss:           rec.StopLoss,
		StartTime:          rec.StartTime,
		EndTime:            rec.EndTime,
		StopReason:         rec.StopReason,
		BuyCount:           rec.BuyCount,
		SellCount:          rec.SellCount,
		TotalBuyAmount:     rec.TotalBuyAmount,
		TotalSellAmount:    rec.TotalSellAmount,
		TradeCount:         rec.TradeCount,
	}
}
