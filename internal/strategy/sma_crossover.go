package strategy

import (
	"context"
	"fmt"
)

// SMACrossover signals Buy when the short moving average crosses above the
// long one on the latest candle, and Sell on the opposite cross.
type SMACrossover struct {
	data MarketData
}

// NewSMACrossover creates the strategy.
func NewSMACrossover(data MarketData) *SMACrossover {
	return &SMACrossover{data: data}
}

// Name implements Strategy.
func (s *SMACrossover) Name() string { return "SMA_CROSSOVER" }

// GenerateSignal implements Strategy. Params: short (default 10),
// long (default 50), interval (default 1m).
func (s *SMACrossover) GenerateSignal(ctx context.Context, symbol string, params map[string]string) (Signal, error) {
	short, err := paramInt(params, "short", 10)
	if err != nil {
		return SignalNone, err
	}
	long, err := paramInt(params, "long", 50)
	if err != nil {
		return SignalNone, err
	}
	if short >= long {
		return SignalNone, fmt.Errorf("short period %d must be less than long period %d", short, long)
	}
	interval := paramString(params, "interval", "1m")

	klines, err := s.data.GetKlines(ctx, symbol, interval, long+2)
	if err != nil {
		return SignalNone, err
	}
	prices := closes(klines)
	last := len(prices) - 1

	shortNow, ok1 := sma(prices, short, last)
	longNow, ok2 := sma(prices, long, last)
	shortPrev, ok3 := sma(prices, short, last-1)
	longPrev, ok4 := sma(prices, long, last-1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return SignalNone, nil
	}

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return SignalBuy, nil
	case shortPrev >= longPrev && shortNow < longNow:
		return SignalSell, nil
	default:
		return SignalNone, nil
	}
}
