package signal

import (
	"sync"
	"time"

	"miniqmt/logger"
)

// TTL pending signals older than this are dropped at drain time
const TTL = 300 * time.Second

// maxAttemptsPerMinute execution attempts allowed per symbol per
// wall-clock-minute bucket before the signal is abandoned
const maxAttemptsPerMinute = 3

// State execution lifecycle of a pending signal
type State string

const (
	StatePending  State = "pending"
	StateRetrying State = "retrying"
)

// PendingSignal a mailbox entry visible to consumers
type PendingSignal struct {
	Signal   *Signal `json:"signal"`
	State    State   `json:"state"`
	Attempts int     `json:"attempts"`
}

// entry mailbox slot for one symbol
type entry struct {
	sig      *Signal
	state    State
	attempts int

	// per-minute attempt bucket
	bucketMinute int64
	bucketTries  int
}

// Broker a TTL-bounded mailbox keyed by symbol. Posting overwrites any
// prior pending signal for the symbol; one symbol never queues two intents.
type Broker struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time // injectable clock for tests
}

// NewBroker creates an empty mailbox
func NewBroker() *Broker {
	return &Broker{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Post stores sig for its symbol, overwriting any prior pending signal
func (b *Broker) Post(sig *Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.entries[sig.Symbol]; ok {
		logger.Infof("📨 Signal for %s overwritten: %s -> %s", sig.Symbol, prev.sig.Type, sig.Type)
	}
	b.entries[sig.Symbol] = &entry{sig: sig, state: StatePending}
}

// DrainValid returns all pending signals younger than the TTL, discarding
// and logging stale ones. Returned signals stay pending until marked
// executed or abandoned.
func (b *Broker) DrainValid() []*Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var out []*Signal
	for symbol, e := range b.entries {
		if now.Sub(e.sig.CreatedAt) > TTL {
			logger.Warnf("📨 Dropping stale %s signal for %s (age %.0fs)", e.sig.Type, symbol, now.Sub(e.sig.CreatedAt).Seconds())
			delete(b.entries, symbol)
			continue
		}
		out = append(out, e.sig)
	}
	return out
}

// BeginAttempt asks permission to execute the signal for symbol.
// Returns ok=false when the signal is gone or was superseded by a
// different ID. abandoned=true means this call exhausted the per-minute
// retry budget: the entry is force-cleared so later signals for the
// symbol are not starved, and the caller must escalate.
func (b *Broker) BeginAttempt(symbol, id string) (ok, abandoned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[symbol]
	if !exists || e.sig.ID != id {
		return false, false
	}

	minute := b.now().Unix() / 60
	if e.bucketMinute != minute {
		e.bucketMinute = minute
		e.bucketTries = 0
	}
	if e.bucketTries >= maxAttemptsPerMinute {
		delete(b.entries, symbol)
		return false, true
	}

	e.bucketTries++
	e.attempts++
	if e.attempts > 1 {
		e.state = StateRetrying
	}
	return true, false
}

// MarkExecuted removes the signal after a successful submission
func (b *Broker) MarkExecuted(symbol, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[symbol]; ok && e.sig.ID == id {
		delete(b.entries, symbol)
	}
}

// MarkFailed keeps the signal pending for the next drain pass
func (b *Broker) MarkFailed(symbol, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[symbol]; ok && e.sig.ID == id {
		e.state = StateRetrying
	}
}

// Clear removes any pending signal for symbol
func (b *Broker) Clear(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, symbol)
}

// Pending snapshot of the mailbox for the API layer
func (b *Broker) Pending() []PendingSignal {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingSignal, 0, len(b.entries))
	for _, e := range b.entries {
		sig := *e.sig
		out = append(out, PendingSignal{Signal: &sig, State: e.state, Attempts: e.attempts})
	}
	return out
}

// Len number of pending signals
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
