package strategy

import (
	"context"
	"fmt"
)

// EMACrossover is the exponential variant of the moving-average cross,
// reacting faster to recent price action than SMA.
type EMACrossover struct {
	data MarketData
}

// NewEMACrossover creates the strategy.
func NewEMACrossover(data MarketData) *EMACrossover {
	return &EMACrossover{data: data}
}

// Name implements Strategy.
func (s *EMACrossover) Name() string { return "EMA_CROSSOVER" }

// GenerateSignal implements Strategy. Params: short (default 9),
// long (default 21), interval (default 1m).
func (s *EMACrossover) GenerateSignal(ctx context.Context, symbol string, params map[string]string) (Signal, error) {
	short, err := paramInt(params, "short", 9)
	if err != nil {
		return SignalNone, err
	}
	long, err := paramInt(params, "long", 21)
	if err != nil {
		return SignalNone, err
	}
	if short >= long {
		return SignalNone, fmt.Errorf("short period %d must be less than long period %d", short, long)
	}
	interval := paramString(params, "interval", "1m")

	klines, err := s.data.GetKlines(ctx, symbol, interval, long*3)
	if err != nil {
		return SignalNone, err
	}
	prices := closes(klines)

	shortEMA, ok1 := emaSeries(prices, short)
	longEMA, ok2 := emaSeries(prices, long)
	if !ok1 || !ok2 || len(prices) < long+2 {
		return SignalNone, nil
	}

	last := len(prices) - 1
	switch {
	case shortEMA[last-1] <= longEMA[last-1] && shortEMA[last] > longEMA[last]:
		return SignalBuy, nil
	case shortEMA[last-1] >= longEMA[last-1] && shortEMA[last] < longEMA[last]:
		return SignalSell, nil
	default:
		return SignalNone, nil
	}
}
