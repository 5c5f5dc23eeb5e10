// Package grid implements the band-oscillation strategy: per-symbol price
// tracking with callback debounce, session accounting, signal detection and
// exit-condition evaluation.
package grid

// Direction of the move being tracked after a band cross
type Direction int

const (
	DirectionNone Direction = iota
	DirectionRising
	DirectionFalling
)

func (d Direction) String() string {
	switch d {
	case DirectionRising:
		return "rising"
	case DirectionFalling:
		return "falling"
	default:
		return "none"
	}
}

// TrackerEvent confirmed reversal emitted by Observe
type TrackerEvent int

const (
	EventNone TrackerEvent = iota
	EventSell              // confirmed pullback from a peak above the band
	EventBuy               // confirmed rebound from a valley below the band
)

// Tracker per-symbol peak/valley state. A raw band cross only arms the
// tracker; the signal fires once price retraces at least the callback
// ratio from the extreme, which filters threshold-churn on noise.
// Ephemeral: never persisted, rebuilt fresh each session.
type Tracker struct {
	LastPrice    float64
	PeakPrice    float64
	ValleyPrice  float64
	WaitCallback bool
	Direction    Direction
}

// NewTracker creates an idle tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe feeds one tick against the current band [lower, upper] and
// returns the confirmed reversal event, if any. The tracker resets after
// emitting so each excursion produces exactly one event.
func (t *Tracker) Observe(price, lower, upper, callbackRatio float64) TrackerEvent {
	defer func() { t.LastPrice = price }()

	if price <= 0 {
		return EventNone
	}

	if !t.WaitCallback {
		if price > upper {
			t.Direction = DirectionRising
			t.PeakPrice = price
			t.WaitCallback = true
		} else if price < lower {
			t.Direction = DirectionFalling
			t.ValleyPrice = price
			t.WaitCallback = true
		}
		return EventNone
	}

	switch t.Direction {
	case DirectionRising:
		if price > t.PeakPrice {
			t.PeakPrice = price
		}
		if t.PeakPrice > 0 && (t.PeakPrice-price)/t.PeakPrice >= callbackRatio {
			t.Reset()
			return EventSell
		}
	case DirectionFalling:
		if price < t.ValleyPrice {
			t.ValleyPrice = price
		}
		if t.ValleyPrice > 0 && (price-t.ValleyPrice)/t.ValleyPrice >= callbackRatio {
			t.Reset()
			return EventBuy
		}
	}
	return EventNone
}

// Reset returns the tracker to idle
func (t *Tracker) Reset() {
	t.PeakPrice = 0
	t.ValleyPrice = 0
	t.WaitCallback = false
	t.Direction = DirectionNone
}
