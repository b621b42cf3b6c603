package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the canonical order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the canonical order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the canonical order status set. Adapters normalize
// exchange-specific strings into these values.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// NormalizeStatus maps a raw exchange status string onto the canonical set.
// Unknown strings map to REJECTED so callers never treat them as live orders.
func NormalizeStatus(raw string) OrderStatus {
	switch strings.ToUpper(raw) {
	case "NEW", "PENDING_NEW", "ACCEPTED":
		return StatusNew
	case "PARTIALLY_FILLED", "PARTIAL_FILL":
		return StatusPartiallyFilled
	case "FILLED":
		return StatusFilled
	case "CANCELED", "CANCELLED", "PENDING_CANCEL":
		return StatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return StatusExpired
	default:
		return StatusRejected
	}
}

// Ticker is the latest price summary for a symbol.
type Ticker struct {
	Symbol         string          `json:"symbol"`
	LastPrice      decimal.Decimal `json:"last_price"`
	BestBid        decimal.Decimal `json:"best_bid"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	QuoteVolume24h decimal.Decimal `json:"quote_volume_24h"`
	ChangePct24h   decimal.Decimal `json:"change_pct_24h"`
	At             time.Time       `json:"at"`
}

// Kline is a single candlestick.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Balance is a single asset balance on the exchange account.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free+locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Position is an exchange-side view of exposure on a symbol. On spot this is
// synthesized from the base-asset balance.
type Position struct {
	Symbol    string          `json:"symbol"`
	BaseAsset string          `json:"base_asset"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal // Limit orders only
}

// Order is a normalized exchange order.
type Order struct {
	ExchangeOrderID int64           `json:"exchange_order_id"`
	ClientOrderID   string          `json:"client_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Status          OrderStatus     `json:"status"`
	Price           decimal.Decimal `json:"price"`
	ExecutedQty     decimal.Decimal `json:"executed_qty"`
	QuoteQty        decimal.Decimal `json:"quote_qty"`
	Commission      decimal.Decimal `json:"commission"`
	TransactTime    time.Time       `json:"transact_time"`
}

// AvgFillPrice returns the average fill price, or zero if nothing executed.
func (o *Order) AvgFillPrice() decimal.Decimal {
	if o.ExecutedQty.IsZero() {
		return o.Price
	}
	if o.QuoteQty.IsZero() {
		return o.Price
	}
	return o.QuoteQty.Div(o.ExecutedQty)
}
