package signal

import (
	"testing"
	"time"
)

func TestBrokerPostOverwritesPerSymbol(t *testing.T) {
	b := NewBroker()

	b.Post(New("000001.SZ", TypeGridBuy, 9.4, 500, "rebound"))
	b.Post(New("000001.SZ", TypeStopLoss, 9.2, 1000, "floor breach"))
	b.Post(New("600519.SH", TypeGridSell, 1800, 100, "callback"))

	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2 (one slot per symbol)", b.Len())
	}

	sigs := b.DrainValid()
	types := map[string]Type{}
	for _, s := range sigs {
		types[s.Symbol] = s.Type
	}
	if types["000001.SZ"] != TypeStopLoss {
		t.Errorf("000001.SZ slot = %s, want the later stop_loss", types["000001.SZ"])
	}
}

func TestBrokerDropsStaleSignals(t *testing.T) {
	b := NewBroker()
	base := time.Now()

	fresh := New("000001.SZ", TypeGridBuy, 9.4, 500, "rebound")
	stale := New("600519.SH", TypeGridSell, 1800, 100, "callback")
	stale.CreatedAt = base.Add(-301 * time.Second)
	b.Post(fresh)
	b.Post(stale)

	b.now = func() time.Time { return base }

	sigs := b.DrainValid()
	if len(sigs) != 1 || sigs[0].Symbol != "000001.SZ" {
		t.Fatalf("drained %d signals, want only the fresh one", len(sigs))
	}
	// The stale entry is gone for good
	if b.Len() != 1 {
		t.Errorf("len after drain = %d, want 1", b.Len())
	}
}

func TestBrokerSignalPersistsUntilExecuted(t *testing.T) {
	b := NewBroker()
	sig := New("000001.SZ", TypeStopLoss, 9.2, 1000, "floor breach")
	b.Post(sig)

	// Draining does not consume
	for i := 0; i < 3; i++ {
		if got := len(b.DrainValid()); got != 1 {
			t.Fatalf("drain %d returned %d signals, want 1", i, got)
		}
	}

	b.MarkExecuted(sig.Symbol, sig.ID)
	if b.Len() != 0 {
		t.Errorf("len after execute = %d, want 0", b.Len())
	}
}

func TestBrokerRetryBudgetAbandons(t *testing.T) {
	b := NewBroker()
	base := time.Now()
	b.now = func() time.Time { return base }

	sig := New("000001.SZ", TypeStopLoss, 9.2, 1000, "floor breach")
	b.Post(sig)

	// Three attempts in the same minute are allowed
	for i := 0; i < 3; i++ {
		ok, abandoned := b.BeginAttempt(sig.Symbol, sig.ID)
		if !ok || abandoned {
			t.Fatalf("attempt %d: ok=%v abandoned=%v", i+1, ok, abandoned)
		}
		b.MarkFailed(sig.Symbol, sig.ID)
	}

	// The fourth exhausts the budget and force-clears the slot
	ok, abandoned := b.BeginAttempt(sig.Symbol, sig.ID)
	if ok || !abandoned {
		t.Fatalf("fourth attempt: ok=%v abandoned=%v, want abandoned", ok, abandoned)
	}
	if b.Len() != 0 {
		t.Error("abandoned signal still occupies the slot")
	}

	// A fresh signal for the symbol is not starved by the abandonment
	next := New("000001.SZ", TypeStopLoss, 9.1, 1000, "floor breach")
	b.Post(next)
	if ok, _ := b.BeginAttempt(next.Symbol, next.ID); !ok {
		t.Error("fresh signal after abandonment refused an attempt")
	}
}

func TestBrokerBudgetResetsNextMinute(t *testing.T) {
	b := NewBroker()
	base := time.Now()
	b.now = func() time.Time { return base }

	sig := New("000001.SZ", TypeStopLoss, 9.2, 1000, "floor breach")
	b.Post(sig)

	for i := 0; i < 3; i++ {
		b.BeginAttempt(sig.Symbol, sig.ID)
		b.MarkFailed(sig.Symbol, sig.ID)
	}

	// Next wall-clock minute opens a new bucket
	b.now = func() time.Time { return base.Add(time.Minute) }
	ok, abandoned := b.BeginAttempt(sig.Symbol, sig.ID)
	if !ok || abandoned {
		t.Errorf("attempt in next minute: ok=%v abandoned=%v, want fresh budget", ok, abandoned)
	}
}

func TestBrokerBeginAttemptRejectsSupersededID(t *testing.T) {
	b := NewBroker()
	old := New("000001.SZ", TypeGridBuy, 9.4, 500, "rebound")
	b.Post(old)
	replacement := New("000001.SZ", TypeStopLoss, 9.2, 1000, "floor breach")
	b.Post(replacement)

	if ok, _ := b.BeginAttempt(old.Symbol, old.ID); ok {
		t.Error("superseded signal ID was granted an attempt")
	}
	if ok, _ := b.BeginAttempt(replacement.Symbol, replacement.ID); !ok {
		t.Error("current signal ID refused an attempt")
	}
}
