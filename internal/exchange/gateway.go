package exchange

import (
	"context"
	"time"
)

// Gateway is the uniform contract to a spot exchange. All calls are blocking
// I/O with client-side timeouts; failures are reported as *APIError.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*Order, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetServerTime(ctx context.Context) (time.Time, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	// GetExchangePosition synthesizes a position from the base-asset balance
	// on spot accounts. Quantity below the caller's dust threshold means no
	// position.
	GetExchangePosition(ctx context.Context, symbol, baseAsset string) (*Position, error)
}

// Compile-time interface checks for both implementations.
var (
	_ Gateway = (*BinanceGateway)(nil)
	_ Gateway = (*MockGateway)(nil)
)
