package grid

import "testing"

func TestTrackerCallbackConfirmsSingleSell(t *testing.T) {
	// Band around center 10.0 with 5% interval
	lower, upper := 9.5, 10.5
	callback := 0.005

	tr := NewTracker()

	steps := []struct {
		price float64
		want  TrackerEvent
	}{
		{10.20, EventNone}, // inside the band
		{10.40, EventNone},
		{10.55, EventNone}, // cross above upper, arms rising
		{10.60, EventNone}, // new peak
		{10.58, EventNone}, // 0.19% retracement, below callback
		{10.55, EventNone}, // 0.47% retracement, still below
		{10.54, EventSell}, // 0.57% retracement, first tick past 0.5%
	}
	for i, step := range steps {
		if got := tr.Observe(step.price, lower, upper, callback); got != step.want {
			t.Errorf("tick %d (%.2f): got event %v, want %v", i, step.price, got, step.want)
		}
	}

	// The emit resets the tracker; the excursion is spent
	if tr.WaitCallback || tr.Direction != DirectionNone {
		t.Errorf("tracker not reset after emit: waiting=%v direction=%v", tr.WaitCallback, tr.Direction)
	}
	if got := tr.Observe(10.45, lower, upper, callback); got != EventNone {
		t.Errorf("in-band tick after reset emitted %v", got)
	}
}

func TestTrackerBuyOnReboundFromValley(t *testing.T) {
	lower, upper := 9.5, 10.5
	callback := 0.005

	tr := NewTracker()

	steps := []struct {
		price float64
		want  TrackerEvent
	}{
		{9.60, EventNone},
		{9.45, EventNone}, // cross below lower, arms falling
		{9.30, EventNone}, // new valley
		{9.33, EventNone}, // 0.32% rebound, below callback
		{9.38, EventBuy},  // 0.86% rebound
	}
	for i, step := range steps {
		if got := tr.Observe(step.price, lower, upper, callback); got != step.want {
			t.Errorf("tick %d (%.2f): got event %v, want %v", i, step.price, got, step.want)
		}
	}
}

func TestTrackerPeakRatchetsWhileWaiting(t *testing.T) {
	tr := NewTracker()

	tr.Observe(10.55, 9.5, 10.5, 0.005)
	tr.Observe(10.70, 9.5, 10.5, 0.005)
	tr.Observe(10.60, 9.5, 10.5, 0.005) // retracement measured from 10.70

	if tr.PeakPrice != 0 {
		// (10.70-10.60)/10.70 = 0.93% >= 0.5%, so the tracker must have
		// emitted and reset by now
		t.Errorf("peak price %v, want tracker reset", tr.PeakPrice)
	}
}

func TestTrackerIgnoresNonPositivePrices(t *testing.T) {
	tr := NewTracker()
	if got := tr.Observe(0, 9.5, 10.5, 0.005); got != EventNone {
		t.Errorf("zero price emitted %v", got)
	}
	if tr.WaitCallback {
		t.Error("zero price armed the tracker")
	}
}
