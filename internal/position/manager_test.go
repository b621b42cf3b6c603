package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/config"
	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu        sync.Mutex
	positions map[string]*database.Position
	configs   map[string]*database.StrategyConfig
	pairs     map[string]*database.TradingPair
	trades    []*database.Trade
	events    []*database.RiskEvent
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
	for _, existing := range s.positions {
		if existing.Symbol == p.Symbol && existing.Active {
			return errors.New("duplicate active position")
		}
	}
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

func (s *memStore) GetTradingPair(ctx context.Context, symbol string) (*database.TradingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[symbol]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (s *memStore) CreateTrade(ctx context.Context, t *database.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memStore) CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Pairs:                []string{"BTCUSDT"},
		QuoteAsset:           "USDT",
		PositionNotional:     1000,
		MaxOpenPositions:     10,
		DefaultStopLossPct:   1.5,
		DefaultTakeProfitPct: 3.0,
		MaxHoldingMinutes:    60,
	}
}

func seedSymbol(s *memStore, symbol string, kind database.PairKind) {
	s.configs[symbol] = &database.StrategyConfig{
		Symbol:       symbol,
		StrategyName: "SMA_CROSSOVER",
		Active:       true,
		Params:       map[string]string{},
	}
	s.pairs[symbol] = &database.TradingPair{
		Symbol:            symbol,
		BaseAsset:         symbol[:3],
		QuoteAsset:        "USDT",
		PricePrecision:    8,
		QuantityPrecision: 8,
		MinOrderSize:      d("0.0001"),
		Active:            true,
		Kind:              kind,
	}
}

func newTestManager(store *memStore, gw exchange.Gateway) *Manager {
	return NewManager(store, gw, events.NewBus(), nil, testTradingConfig())
}

func TestOpenCreatesPosition(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	p, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !p.Quantity.Equal(d("10")) {
		t.Errorf("expected qty 10, got %s", p.Quantity)
	}
	if !p.EntryPrice.Equal(d("100")) {
		t.Errorf("expected entry 100, got %s", p.EntryPrice)
	}
	if p.StopLossPrice == nil || !p.StopLossPrice.Equal(d("98.5")) {
		t.Errorf("expected stop loss 98.5, got %v", p.StopLossPrice)
	}
	if p.TakeProfitPrice == nil || !p.TakeProfitPrice.Equal(d("103")) {
		t.Errorf("expected take profit 103, got %v", p.TakeProfitPrice)
	}
	if !p.Active {
		t.Error("expected position to be active")
	}
	if got := p.ForceCloseAt.Sub(p.OpenedAt); got != time.Hour {
		t.Errorf("expected force close 1h after open, got %s", got)
	}
	if len(store.trades) != 1 {
		t.Errorf("expected 1 trade record, got %d", len(store.trades))
	}
}

func TestOpenWithoutConfig(t *testing.T) {
	store := newMemStore()
	gw := exchange.NewMockGateway()
	m := newTestManager(store, gw)

	_, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if !errors.Is(err, ErrSymbolNotConfigured) {
		t.Errorf("expected ErrSymbolNotConfigured, got %v", err)
	}
	if gw.PlaceOrderCalls() != 0 {
		t.Error("no order should be placed without a config")
	}
}

func TestOpenExistingPosition(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if !errors.Is(err, ErrPositionExists) {
		t.Errorf("expected ErrPositionExists, got %v", err)
	}
	if gw.PlaceOrderCalls() != 1 {
		t.Errorf("expected exactly 1 order, got %d", gw.PlaceOrderCalls())
	}
}

func TestOpenShortOnSpotRejected(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	_, err := m.Open(context.Background(), "BTCUSDT", exchange.SideSell, d("100"))
	if !errors.Is(err, ErrShortNotAllowed) {
		t.Errorf("expected ErrShortNotAllowed, got %v", err)
	}
}

func TestOpenShortOnFuturesAllowed(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairPerpFutures)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	p, err := m.Open(context.Background(), "BTCUSDT", exchange.SideSell, d("100"))
	if err != nil {
		t.Fatalf("short open on futures failed: %v", err)
	}
	if p.StopLossPrice == nil || !p.StopLossPrice.Equal(d("101.5")) {
		t.Errorf("expected sell stop loss 101.5, got %v", p.StopLossPrice)
	}
}

func TestOpenMaxPositionsReached(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	seedSymbol(store, "ETHUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	gw.SetPrice("ETHUSDT", d("10"))

	cfg := testTradingConfig()
	cfg.MaxOpenPositions = 1
	m := NewManager(store, gw, events.NewBus(), nil, cfg)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_, err := m.Open(context.Background(), "ETHUSDT", exchange.SideBuy, d("10"))
	if !errors.Is(err, ErrMaxPositionsReached) {
		t.Errorf("expected ErrMaxPositionsReached, got %v", err)
	}
}

func TestOpenExchangeFailureLeavesNoState(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	gw.FailNext(exchange.NewTransportError("connection reset"))
	m := newTestManager(store, gw)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err == nil {
		t.Fatal("expected open to fail")
	}
	if _, err := m.GetActive(context.Background(), "BTCUSDT"); !errors.Is(err, ErrNoActivePosition) {
		t.Error("no position should be persisted after exchange failure")
	}
}

func TestOpenWhileHalted(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)
	m.SetHalted(true)

	_, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if !errors.Is(err, ErrTradingHalted) {
		t.Errorf("expected ErrTradingHalted, got %v", err)
	}
}

func TestConcurrentOpenPlacesOneOrder(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "ETHUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("ETHUSDT", d("100"))
	m := newTestManager(store, gw)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Open(context.Background(), "ETHUSDT", exchange.SideBuy, d("100"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var opened, lost int
	for err := range results {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ErrPositionExists):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if opened != 1 || lost != 1 {
		t.Errorf("expected one winner and one loser, got opened=%d lost=%d", opened, lost)
	}
	if gw.PlaceOrderCalls() != 1 {
		t.Errorf("expected exactly 1 exchange order, got %d", gw.PlaceOrderCalls())
	}
}

func TestCloseComputesPnl(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	gw.SetPrice("BTCUSDT", d("103.2"))
	closed, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonTakeProfit)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Active {
		t.Error("closed position should be inactive")
	}
	if closed.PnL == nil || !closed.PnL.Equal(d("32")) {
		t.Errorf("expected pnl 32, got %v", closed.PnL)
	}
	if closed.CloseReason == nil || *closed.CloseReason != database.CloseReasonTakeProfit {
		t.Errorf("expected close reason %q, got %v", database.CloseReasonTakeProfit, closed.CloseReason)
	}
	if closed.ClosedAt == nil {
		t.Error("closed position should carry a close time")
	}
}

func TestCloseNoActivePosition(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	m := newTestManager(store, gw)

	_, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual)
	if !errors.Is(err, ErrNoActivePosition) {
		t.Errorf("expected ErrNoActivePosition, got %v", err)
	}
}

func TestCloseTwiceReturnsNotFound(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual)
	if !errors.Is(err, ErrNoActivePosition) {
		t.Errorf("expected ErrNoActivePosition after successful close, got %v", err)
	}
}

// blockingGateway stalls PlaceOrder until released so tests can observe the
// in-flight close window.
type blockingGateway struct {
	*exchange.MockGateway
	entered chan struct{}
	release chan struct{}
	block   bool
	mu      sync.Mutex
}

func (g *blockingGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	g.mu.Lock()
	block := g.block
	g.mu.Unlock()
	if block {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.MockGateway.PlaceOrder(ctx, req)
}

func TestCloseWhileCloseInFlight(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	inner := exchange.NewMockGateway()
	inner.SetPrice("BTCUSDT", d("100"))
	gw := &blockingGateway{
		MockGateway: inner,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	m := NewManager(store, gw, events.NewBus(), nil, testTradingConfig())

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	gw.mu.Lock()
	gw.block = true
	gw.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual)
		firstDone <- err
	}()

	<-gw.entered // first close is now inside the exchange call

	_, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual)
	if !errors.Is(err, ErrCloseInProgress) {
		t.Errorf("expected ErrCloseInProgress, got %v", err)
	}

	close(gw.release)
	if err := <-firstDone; err != nil {
		t.Errorf("first close failed: %v", err)
	}
}

func TestUpdateTrailingStaleAfterClose(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	p, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	gw.SetPrice("BTCUSDT", d("103"))
	if _, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonTakeProfit); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// A trailing update computed from a read taken before the close must
	// not write the stale copy back.
	err = m.UpdateTrailing(context.Background(), p, d("103"), d("101.97"))
	if !errors.Is(err, ErrNoActivePosition) {
		t.Fatalf("expected ErrNoActivePosition, got %v", err)
	}

	closed := store.positions[p.ID]
	if closed.Active {
		t.Fatal("closed position must stay closed")
	}
	if closed.PnL == nil || !closed.PnL.Equal(d("30")) {
		t.Errorf("realized pnl must survive the stale update, got %v", closed.PnL)
	}
	if closed.ClosedAt == nil {
		t.Error("close time must survive the stale update")
	}
}

func TestUpdateTrailingStaleAfterReopen(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	stale, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	reopened, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	// The symbol has a fresh active position; the stale row's update must
	// not touch it.
	err = m.UpdateTrailing(context.Background(), stale, d("103"), d("101.97"))
	if !errors.Is(err, ErrNoActivePosition) {
		t.Fatalf("expected ErrNoActivePosition, got %v", err)
	}
	current := store.positions[reopened.ID]
	if current.StopLossPrice == nil || !current.StopLossPrice.Equal(d("98.5")) {
		t.Errorf("reopened position's stop must be untouched, got %v", current.StopLossPrice)
	}
}

func TestCloseEmergencyLeavesPnlUnset(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("42000"))
	m := newTestManager(store, gw)

	// Adopted exposure with no known cost basis.
	emergency := &database.Position{
		ID:           "emergency-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.SideBuy,
		Quantity:     d("0.5"),
		EntryPrice:   decimal.Zero,
		Active:       true,
		OpenedAt:     time.Now().UTC(),
		ForceCloseAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.CreatePosition(context.Background(), emergency); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	closed, err := m.Close(context.Background(), "BTCUSDT", database.CloseReasonManual)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Active {
		t.Error("position should be closed")
	}
	if closed.ExitPrice == nil {
		t.Error("exit price should be recorded")
	}
	if closed.PnL != nil {
		t.Errorf("pnl must stay unset without an entry price, got %s", closed.PnL)
	}
}

func TestUpdateStopLossMonotonic(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	gw.SetPrice("BTCUSDT", d("100"))
	m := newTestManager(store, gw)

	if _, err := m.Open(context.Background(), "BTCUSDT", exchange.SideBuy, d("100")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Tightening is allowed.
	p, err := m.UpdateStopLoss(context.Background(), "BTCUSDT", d("99.5"))
	if err != nil {
		t.Fatalf("tightening update failed: %v", err)
	}
	if !p.StopLossPrice.Equal(d("99.5")) {
		t.Errorf("expected stop 99.5, got %s", p.StopLossPrice)
	}

	// Loosening is rejected.
	if _, err := m.UpdateStopLoss(context.Background(), "BTCUSDT", d("97")); !errors.Is(err, ErrStopNotTighter) {
		t.Errorf("expected ErrStopNotTighter, got %v", err)
	}
}

func TestSetEntryPrice(t *testing.T) {
	store := newMemStore()
	seedSymbol(store, "BTCUSDT", database.PairSpot)
	gw := exchange.NewMockGateway()
	m := newTestManager(store, gw)

	// Seed an emergency position directly, as the reconciler would.
	emergency := &database.Position{
		ID:           "emergency-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.SideBuy,
		Quantity:     d("0.5"),
		EntryPrice:   decimal.Zero,
		Active:       true,
		OpenedAt:     time.Now().UTC(),
		ForceCloseAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.CreatePosition(context.Background(), emergency); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	p, err := m.SetEntryPrice(context.Background(), "BTCUSDT", d("40000"))
	if err != nil {
		t.Fatalf("set entry price failed: %v", err)
	}
	if !p.EntryPrice.Equal(d("40000")) {
		t.Errorf("expected entry 40000, got %s", p.EntryPrice)
	}
	if p.StopLossPrice == nil || p.TakeProfitPrice == nil {
		t.Fatal("expected stop loss and take profit to be derived")
	}
	if !p.StopLossPrice.Equal(d("39400")) {
		t.Errorf("expected stop loss 39400, got %s", p.StopLossPrice)
	}

	// Supplying an entry price twice is rejected.
	if _, err := m.SetEntryPrice(context.Background(), "BTCUSDT", d("41000")); !errors.Is(err, ErrNotEmergency) {
		t.Errorf("expected ErrNotEmergency, got %v", err)
	}
}
