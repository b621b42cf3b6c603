// Package calc holds the pure price and sizing arithmetic shared by the
// position manager and the risk monitor. Everything here is side-effect
// free decimal math.
package calc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/exchange"
)

var hundred = decimal.NewFromInt(100)

// QuantityFromNotional converts a quote-currency notional into a base
// quantity at the given entry price, truncated to the pair's quantity
// precision. Returns an error when the result would fall below the pair's
// minimum order size.
func QuantityFromNotional(notional, entryPrice decimal.Decimal, quantityPrecision int32, minOrderSize decimal.Decimal) (decimal.Decimal, error) {
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}
	qty := notional.DivRound(entryPrice, quantityPrecision+4).Truncate(quantityPrecision)
	if qty.LessThan(minOrderSize) || qty.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("quantity %s below minimum order size %s", qty, minOrderSize)
	}
	return qty, nil
}

// StopLossPrice computes the initial stop price for a position.
// For Buy: entry·(1 − pct/100). For Sell: entry·(1 + pct/100).
func StopLossPrice(side exchange.Side, entryPrice, pct decimal.Decimal) decimal.Decimal {
	frac := pct.Div(hundred)
	if side == exchange.SideBuy {
		return entryPrice.Mul(decimal.NewFromInt(1).Sub(frac))
	}
	return entryPrice.Mul(decimal.NewFromInt(1).Add(frac))
}

// TakeProfitPrice computes the profit target for a position.
// For Buy: entry·(1 + pct/100). For Sell: entry·(1 − pct/100).
func TakeProfitPrice(side exchange.Side, entryPrice, pct decimal.Decimal) decimal.Decimal {
	frac := pct.Div(hundred)
	if side == exchange.SideBuy {
		return entryPrice.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return entryPrice.Mul(decimal.NewFromInt(1).Sub(frac))
}

// PnL computes realized profit for a round trip, before commissions.
// Buy: (exit − entry)·qty. Sell: (entry − exit)·qty.
func PnL(side exchange.Side, entryPrice, exitPrice, quantity decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(entryPrice)
	if side == exchange.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(quantity)
}

// TrailingStop computes the updated high watermark and proposed stop price
// for a trailing stop at the given market price. For Buy positions the
// watermark ratchets up and the stop trails below it; for Sell the
// watermark ratchets down and the stop trails above.
func TrailingStop(side exchange.Side, hwm, price, pct decimal.Decimal) (newHwm, proposedStop decimal.Decimal) {
	newHwm = hwm
	if side == exchange.SideBuy {
		if price.GreaterThan(newHwm) {
			newHwm = price
		}
		proposedStop = StopLossPrice(exchange.SideBuy, newHwm, pct)
		return newHwm, proposedStop
	}
	if price.LessThan(newHwm) {
		newHwm = price
	}
	proposedStop = StopLossPrice(exchange.SideSell, newHwm, pct)
	return newHwm, proposedStop
}

// MoreProtective reports whether candidate is a strictly tighter stop than
// current for the given side. A trailing stop only ever tightens.
func MoreProtective(side exchange.Side, candidate, current decimal.Decimal) bool {
	if side == exchange.SideBuy {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// StopHit reports whether the market price has crossed the stop level.
func StopHit(side exchange.Side, price, stop decimal.Decimal) bool {
	if side == exchange.SideBuy {
		return price.LessThanOrEqual(stop)
	}
	return price.GreaterThanOrEqual(stop)
}

// TargetHit reports whether the market price has reached the profit target.
func TargetHit(side exchange.Side, price, target decimal.Decimal) bool {
	if side == exchange.SideBuy {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}
