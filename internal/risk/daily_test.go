package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
)

func (s *memStore) ClosedPositionsSince(ctx context.Context, since time.Time) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Position
	for _, p := range s.positions {
		if !p.Active && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	types []events.EventType
}

func (n *stubNotifier) Notify(eventType events.EventType, symbol, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, eventType)
}

func (n *stubNotifier) count(eventType events.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.types {
		if t == eventType {
			c++
		}
	}
	return c
}

func TestDailyGuardSeedsFromClosedPositions(t *testing.T) {
	f := newFixture(t, "")

	closedAt := time.Now().UTC()
	for i, pnl := range []string{"-40", "15"} {
		v := d(pnl)
		reason := database.CloseReasonStopLoss
		f.store.positions["seed-"+pnl] = &database.Position{
			ID:          "seed-" + pnl,
			Symbol:      "BTCUSDT",
			Quantity:    d("1"),
			EntryPrice:  d("100"),
			OpenedAt:    closedAt.Add(time.Duration(-i-1) * time.Hour),
			ClosedAt:    &closedAt,
			PnL:         &v,
			CloseReason: &reason,
		}
	}

	guard := NewDailyGuard(f.manager, f.store, events.NewBus(), nil, 10000, 2.0, 1.8)
	if err := guard.Seed(context.Background()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if got := guard.RealizedToday(); !got.Equal(d("-25")) {
		t.Errorf("expected realized -25, got %s", got)
	}
	if f.manager.Halted() {
		t.Error("a small loss must not halt trading")
	}
}

func TestDailyGuardWarningThreshold(t *testing.T) {
	f := newFixture(t, "")
	notifier := &stubNotifier{}
	guard := NewDailyGuard(f.manager, f.store, events.NewBus(), notifier, 10000, 2.0, 1.8)

	// 1.85% loss sits between the warning and the hard limit.
	guard.RecordClose(context.Background(), d("-185"))

	if f.manager.Halted() {
		t.Error("warning threshold must not halt trading")
	}
	if notifier.count(events.EventDailyLossLimit) != 1 {
		t.Errorf("expected one warning notification, got %d", notifier.count(events.EventDailyLossLimit))
	}

	// Same condition again inside the window stays quiet.
	guard.RecordClose(context.Background(), d("-1"))
	if notifier.count(events.EventDailyLossLimit) != 1 {
		t.Error("warning must fire only once per day")
	}
}

func TestDailyGuardTripHaltsAndFlattens(t *testing.T) {
	f := newFixture(t, "")
	p := f.open(t)
	notifier := &stubNotifier{}
	guard := NewDailyGuard(f.manager, f.store, events.NewBus(), notifier, 10000, 2.0, 1.8)

	// 2.5% loss breaches the limit.
	guard.RecordClose(context.Background(), d("-250"))

	if !f.manager.Halted() {
		t.Fatal("breaching the limit must halt trading")
	}

	flattened := f.store.positions[p.ID]
	if flattened.Active {
		t.Fatal("active positions must be flattened on trip")
	}
	if flattened.CloseReason == nil || *flattened.CloseReason != database.CloseReasonDailyLossLimit {
		t.Errorf("expected DailyLossLimit close, got %v", flattened.CloseReason)
	}

	var critical bool
	for _, e := range f.store.events {
		if e.Type == database.RiskEventDailyLossLimit && e.Severity == database.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Error("expected a critical daily loss risk event")
	}

	if _, err := f.manager.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err == nil {
		t.Error("opening while halted must fail")
	}
}

func TestDailyGuardProfitsNeverTrip(t *testing.T) {
	f := newFixture(t, "")
	guard := NewDailyGuard(f.manager, f.store, events.NewBus(), nil, 10000, 2.0, 1.8)

	guard.RecordClose(context.Background(), d("500"))
	guard.RecordClose(context.Background(), d("-100"))

	if f.manager.Halted() {
		t.Error("a net-positive day must not halt trading")
	}
	if got := guard.RealizedToday(); !got.Equal(d("400")) {
		t.Errorf("expected realized 400, got %s", got)
	}
}

func TestDailyGuardHaltLiftsAtMidnight(t *testing.T) {
	f := newFixture(t, "")
	guard := NewDailyGuard(f.manager, f.store, events.NewBus(), nil, 10000, 2.0, 1.8)

	guard.RecordClose(context.Background(), d("-250"))
	if !f.manager.Halted() {
		t.Fatal("expected halt")
	}

	// Age the accounting day so the next tick crosses UTC midnight.
	guard.mu.Lock()
	guard.day = guard.day.AddDate(0, 0, -1)
	guard.mu.Unlock()

	guard.Tick()

	if f.manager.Halted() {
		t.Error("halt must lift once the UTC day rolls over")
	}
	if !guard.RealizedToday().IsZero() {
		t.Errorf("realized pnl must reset, got %s", guard.RealizedToday())
	}
}
