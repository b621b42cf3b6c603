package database

import (
	"time"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/exchange"
)

// PairKind distinguishes spot pairs from futures contracts. Short (Sell)
// opens are only permitted on non-spot pairs.
type PairKind string

const (
	PairSpot         PairKind = "SPOT"
	PairPerpFutures  PairKind = "PERP_FUTURES"
	PairDatedFutures PairKind = "DATED_FUTURES"
)

// Close reasons recorded on positions.
const (
	CloseReasonStrategySignal = "StrategySignal"
	CloseReasonStopLoss       = "StopLoss"
	CloseReasonTakeProfit     = "TakeProfit"
	CloseReasonTimeLimit      = "TimeLimit"
	CloseReasonExternalClose  = "ExternalClose"
	CloseReasonManual         = "Manual"
	CloseReasonDailyLossLimit = "DailyLossLimit"
)

// Risk event types (audit trail).
const (
	RiskEventPositionOpened   = "PositionOpened"
	RiskEventPositionClosed   = "PositionClosed"
	RiskEventStopLoss         = "StopLossTriggered"
	RiskEventTakeProfit       = "TakeProfitTriggered"
	RiskEventTrailingUpdate   = "TrailingStopUpdated"
	RiskEventTimeLimit        = "TimeLimitTriggered"
	RiskEventExternalClose    = "ExternalClose"
	RiskEventEmergency        = "EmergencyPosition"
	RiskEventQuantityMismatch = "QuantityMismatch"
	RiskEventDailyLossLimit   = "DailyLossLimit"
)

// Risk event severities.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// TradingPair describes one tradable market. Immutable after load except for
// the Active flag.
type TradingPair struct {
	Symbol            string          `json:"symbol"`
	BaseAsset         string          `json:"base_asset"`
	QuoteAsset        string          `json:"quote_asset"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	MinOrderSize      decimal.Decimal `json:"min_order_size"`
	Active            bool            `json:"active"`
	Kind              PairKind        `json:"kind"`
}

// Position is the bot's net open exposure on a symbol.
//
// Invariants enforced by the position manager:
//   - at most one active position per symbol,
//   - active ⇔ ClosedAt == nil ∧ PnL == nil,
//   - closed positions are immutable.
type Position struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Side            exchange.Side    `json:"side"`
	Quantity        decimal.Decimal  `json:"quantity"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	TrailingStopPct *decimal.Decimal `json:"trailing_stop_pct,omitempty"`
	HighWatermark   *decimal.Decimal `json:"high_watermark,omitempty"`
	Active          bool             `json:"active"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	ForceCloseAt    time.Time        `json:"force_close_at"`
	ExitPrice       *decimal.Decimal `json:"exit_price,omitempty"`
	PnL             *decimal.Decimal `json:"pnl,omitempty"`
	CloseReason     *string          `json:"close_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsEmergency reports whether this position was synthesized by the
// reconciler from unexplained exchange exposure. Such positions carry no
// entry price and are excluded from SL/TP/time monitoring until an operator
// supplies one.
func (p *Position) IsEmergency() bool {
	return p.EntryPrice.IsZero()
}

// Trade is an immutable record of an exchange fill.
type Trade struct {
	ID              int64                `json:"id"`
	ExchangeTradeID int64                `json:"exchange_trade_id"`
	PositionID      *string              `json:"position_id,omitempty"`
	Symbol          string               `json:"symbol"`
	Side            exchange.Side        `json:"side"`
	Type            exchange.OrderType   `json:"type"`
	Status          exchange.OrderStatus `json:"status"`
	Price           decimal.Decimal      `json:"price"`
	Quantity        decimal.Decimal      `json:"quantity"`
	Commission      decimal.Decimal      `json:"commission"`
	ExecutedAt      time.Time            `json:"executed_at"`
	CreatedAt       time.Time            `json:"created_at"`
}

// StrategyConfig maps a symbol to its strategy and parameters.
type StrategyConfig struct {
	Symbol       string            `json:"symbol"`
	StrategyName string            `json:"strategy_name"`
	Active       bool              `json:"active"`
	Params       map[string]string `json:"params"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RiskEvent is an append-only audit record.
type RiskEvent struct {
	ID           int64            `json:"id"`
	PositionID   *string          `json:"position_id,omitempty"`
	Symbol       string           `json:"symbol"`
	Type         string           `json:"type"`
	Severity     string           `json:"severity"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	Message      string           `json:"message"`
	At           time.Time        `json:"at"`
}

// MarketSnapshot is a persisted ticker row.
type MarketSnapshot struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol"`
	LastPrice      decimal.Decimal `json:"last_price"`
	BestBid        decimal.Decimal `json:"best_bid"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	QuoteVolume24h decimal.Decimal `json:"quote_volume_24h"`
	ChangePct24h   decimal.Decimal `json:"change_pct_24h"`
	At             time.Time       `json:"at"`
}
