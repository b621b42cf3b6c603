package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockGateway is an in-memory exchange used in dry-run mode and tests.
// Market orders fill immediately at the configured price.
type MockGateway struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	balances    map[string]decimal.Decimal
	klines      map[string][]Kline
	orders      map[int64]*Order
	nextOrderID int64
	placeCalls  int
	failNext    error
}

// NewMockGateway creates an empty mock exchange.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		prices:      make(map[string]decimal.Decimal),
		balances:    make(map[string]decimal.Decimal),
		orders:      make(map[int64]*Order),
		nextOrderID: 1,
	}
}

// SetPrice sets the fill/ticker price for a symbol.
func (m *MockGateway) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetBalance sets an asset balance.
func (m *MockGateway) SetBalance(asset string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = qty
}

// FailNext makes the next gateway call return err.
func (m *MockGateway) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// PlaceOrderCalls returns how many orders were submitted.
func (m *MockGateway) PlaceOrderCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls
}

// PlaceOrder fills a market order at the configured price and adjusts the
// base-asset balance like a spot exchange would.
func (m *MockGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placeCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	price, ok := m.prices[req.Symbol]
	if !ok {
		return nil, &APIError{Kind: KindAPI, Code: -1121, Message: "invalid symbol"}
	}
	if req.Type == OrderTypeLimit {
		price = req.Price
	}

	base := baseAssetOf(req.Symbol)
	if req.Side == SideBuy {
		m.balances[base] = m.balances[base].Add(req.Quantity)
	} else {
		m.balances[base] = m.balances[base].Sub(req.Quantity)
	}

	order := &Order{
		ExchangeOrderID: m.nextOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          StatusFilled,
		Price:           price,
		ExecutedQty:     req.Quantity,
		QuoteQty:        price.Mul(req.Quantity),
		TransactTime:    time.Now().UTC(),
	}
	m.nextOrderID++
	m.orders[order.ExchangeOrderID] = order
	return order, nil
}

// CancelOrder marks an order canceled.
func (m *MockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return &APIError{Kind: KindAPI, Code: -2011, Message: "unknown order"}
	}
	order.Status = StatusCanceled
	return nil
}

// GetOrderStatus returns a stored order.
func (m *MockGateway) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, &APIError{Kind: KindAPI, Code: -2013, Message: "order does not exist"}
	}
	cp := *order
	return &cp, nil
}

// GetTicker returns a ticker at the configured price.
func (m *MockGateway) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return nil, &APIError{Kind: KindAPI, Code: -1121, Message: "invalid symbol"}
	}
	return &Ticker{
		Symbol:    symbol,
		LastPrice: price,
		BestBid:   price,
		BestAsk:   price,
		At:        time.Now().UTC(),
	}, nil
}

// SetKlines sets the candle history returned for a symbol.
func (m *MockGateway) SetKlines(symbol string, klines []Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.klines == nil {
		m.klines = make(map[string][]Kline)
	}
	m.klines[symbol] = klines
}

// GetKlines returns configured candle history, truncated to limit.
func (m *MockGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	klines := m.klines[symbol]
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out, nil
}

// GetBalances returns all configured balances.
func (m *MockGateway) GetBalances(ctx context.Context) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(m.balances))
	for asset, qty := range m.balances {
		balances = append(balances, Balance{Asset: asset, Free: qty})
	}
	return balances, nil
}

// GetServerTime returns the local clock.
func (m *MockGateway) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// GetOpenOrders returns nothing; the mock fills orders immediately.
func (m *MockGateway) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	return nil, nil
}

// GetExchangePosition synthesizes a position from the base-asset balance.
func (m *MockGateway) GetExchangePosition(ctx context.Context, symbol, baseAsset string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return &Position{Symbol: symbol, BaseAsset: baseAsset, Quantity: m.balances[baseAsset]}, nil
}

func (m *MockGateway) takeFailure() error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

// baseAssetOf strips a known quote suffix from a symbol. Good enough for the
// mock; real pair metadata comes from the trading_pairs table.
func baseAssetOf(symbol string) string {
	for _, quote := range []string{"USDT", "BUSD", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}
