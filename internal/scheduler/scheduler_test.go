package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/config"
	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/marketdata"
	"scalp-trading-bot/internal/position"
	"scalp-trading-bot/internal/strategy"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type memStore struct {
	mu        sync.Mutex
	positions map[string]*database.Position
	configs   map[string]*database.StrategyConfig
	pairs     map[string]*database.TradingPair
}

func newMemStore() *memStore {
	return &memStore{
		positions: make(map[string]*database.Position),
		configs:   make(map[string]*database.StrategyConfig),
		pairs:     make(map[string]*database.TradingPair),
	}
}

func (s *memStore) CreatePosition(ctx context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *memStore) UpdatePosition(ctx context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *memStore) GetActivePosition(ctx context.Context, symbol string) (*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memStore) ListActivePositions(ctx context.Context) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Position
	for _, p := range s.positions {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CountActivePositions(ctx context.Context) (int, error) {
	active, _ := s.ListActivePositions(ctx)
	return len(active), nil
}

func (s *memStore) GetStrategyConfig(ctx context.Context, symbol string) (*database.StrategyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[symbol]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

func (s *memStore) ListActiveStrategyConfigs(ctx context.Context) ([]*database.StrategyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.StrategyConfig
	for _, cfg := range s.configs {
		if cfg.Active {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *memStore) GetTradingPair(ctx context.Context, symbol string) (*database.TradingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[symbol]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (s *memStore) CreateTrade(ctx context.Context, t *database.Trade) error { return nil }

func (s *memStore) CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error { return nil }

// fixedStrategy always answers with the same signal.
type fixedStrategy struct {
	mu     sync.Mutex
	name   string
	signal strategy.Signal
	err    error
}

func (s *fixedStrategy) Name() string { return s.name }

func (s *fixedStrategy) GenerateSignal(ctx context.Context, symbol string, params map[string]string) (strategy.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal, s.err
}

func (s *fixedStrategy) set(signal strategy.Signal, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = signal
	s.err = err
}

type fixture struct {
	store    *memStore
	gateway  *exchange.MockGateway
	manager  *position.Manager
	strategy *fixedStrategy
	sched    *Scheduler
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()

	store := newMemStore()
	gw := exchange.NewMockGateway()
	strat := &fixedStrategy{name: "FIXED", signal: strategy.SignalNone}
	registry := strategy.NewRegistry()
	registry.Register(strat)

	for _, symbol := range symbols {
		store.configs[symbol] = &database.StrategyConfig{
			Symbol:       symbol,
			StrategyName: "FIXED",
			Active:       true,
			Params:       map[string]string{},
		}
		store.pairs[symbol] = &database.TradingPair{
			Symbol:            symbol,
			BaseAsset:         symbol[:3],
			QuoteAsset:        "USDT",
			PricePrecision:    8,
			QuantityPrecision: 8,
			MinOrderSize:      d("0.0001"),
			Active:            true,
			Kind:              database.PairSpot,
		}
		gw.SetPrice(symbol, d("100"))
	}

	cfg := config.TradingConfig{
		PositionNotional:     1000,
		MaxOpenPositions:     10,
		DefaultStopLossPct:   1.5,
		DefaultTakeProfitPct: 3.0,
		MaxHoldingMinutes:    60,
	}
	bus := events.NewBus()
	manager := position.NewManager(store, gw, bus, nil, cfg)
	market := marketdata.NewService(gw, bus, nil)
	sched := New(store, registry, manager, market, nil, 15*time.Second)

	return &fixture{store: store, gateway: gw, manager: manager, strategy: strat, sched: sched}
}

func TestBuySignalOpensPosition(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.strategy.set(strategy.SignalBuy, nil)

	f.sched.RunCycle(context.Background())

	p, err := f.manager.GetActive(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected an open position: %v", err)
	}
	if p.Side != exchange.SideBuy {
		t.Errorf("expected Buy side, got %s", p.Side)
	}
	if !p.EntryPrice.Equal(d("100")) {
		t.Errorf("expected entry 100, got %s", p.EntryPrice)
	}
}

func TestNoneSignalIsNoop(t *testing.T) {
	f := newFixture(t, "BTCUSDT")

	f.sched.RunCycle(context.Background())

	if _, err := f.manager.GetActive(context.Background(), "BTCUSDT"); err == nil {
		t.Error("none signal must not open a position")
	}
	if f.gateway.PlaceOrderCalls() != 0 {
		t.Errorf("expected 0 orders, got %d", f.gateway.PlaceOrderCalls())
	}
}

func TestOppositeSignalClosesPosition(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.strategy.set(strategy.SignalBuy, nil)
	f.sched.RunCycle(context.Background())

	p, err := f.manager.GetActive(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected an open position: %v", err)
	}

	f.strategy.set(strategy.SignalSell, nil)
	f.gateway.SetPrice("BTCUSDT", d("101"))
	f.sched.RunCycle(context.Background())

	if _, err := f.manager.GetActive(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("opposite signal should close the position")
	}
	closed := f.store.positions[p.ID]
	if closed.CloseReason == nil || *closed.CloseReason != database.CloseReasonStrategySignal {
		t.Errorf("expected StrategySignal close, got %v", closed.CloseReason)
	}
}

func TestConfirmingSignalKeepsPosition(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.strategy.set(strategy.SignalBuy, nil)

	f.sched.RunCycle(context.Background())
	f.sched.RunCycle(context.Background())

	if f.gateway.PlaceOrderCalls() != 1 {
		t.Errorf("confirming signal must not trade again, got %d orders", f.gateway.PlaceOrderCalls())
	}
}

func TestUnknownStrategySkipped(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.store.configs["BTCUSDT"].StrategyName = "MISSING"
	f.strategy.set(strategy.SignalBuy, nil)

	f.sched.RunCycle(context.Background())

	if f.gateway.PlaceOrderCalls() != 0 {
		t.Error("a symbol with an unknown strategy must be skipped")
	}
}

func TestRateLimitAbortsRestOfCycle(t *testing.T) {
	f := newFixture(t, "AAAUSDT", "BBBUSDT")
	f.strategy.set(strategy.SignalNone, exchange.NewRateLimitError(time.Second))

	f.sched.RunCycle(context.Background())

	if f.gateway.PlaceOrderCalls() != 0 {
		t.Errorf("rate limited cycle must stop trading, got %d orders", f.gateway.PlaceOrderCalls())
	}
}
