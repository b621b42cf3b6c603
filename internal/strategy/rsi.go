package strategy

import (
	"context"
	"fmt"
)

// RSIStrategy signals Buy when RSI drops below the oversold threshold and
// Sell when it rises above the overbought one.
type RSIStrategy struct {
	data MarketData
}

// NewRSIStrategy creates the strategy.
func NewRSIStrategy(data MarketData) *RSIStrategy {
	return &RSIStrategy{data: data}
}

// Name implements Strategy.
func (s *RSIStrategy) Name() string { return "RSI" }

// GenerateSignal implements Strategy. Params: period (default 14),
// oversold (default 30), overbought (default 70), interval (default 1m).
func (s *RSIStrategy) GenerateSignal(ctx context.Context, symbol string, params map[string]string) (Signal, error) {
	period, err := paramInt(params, "period", 14)
	if err != nil {
		return SignalNone, err
	}
	oversold, err := paramFloat(params, "oversold", 30)
	if err != nil {
		return SignalNone, err
	}
	overbought, err := paramFloat(params, "overbought", 70)
	if err != nil {
		return SignalNone, err
	}
	if oversold >= overbought {
		return SignalNone, fmt.Errorf("oversold %v must be below overbought %v", oversold, overbought)
	}
	interval := paramString(params, "interval", "1m")

	klines, err := s.data.GetKlines(ctx, symbol, interval, period*3)
	if err != nil {
		return SignalNone, err
	}

	value, ok := rsi(closes(klines), period)
	if !ok {
		return SignalNone, nil
	}

	switch {
	case value <= oversold:
		return SignalBuy, nil
	case value >= overbought:
		return SignalSell, nil
	default:
		return SignalNone, nil
	}
}
