package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/exchange"
)

// stubData serves a fixed close-price series as candles.
type stubData struct {
	closes []float64
	err    error
}

func (s *stubData) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]exchange.Kline, len(s.closes))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range s.closes {
		price := decimal.NewFromFloat(c)
		out[i] = exchange.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry(&stubData{})

	for _, name := range []string{"SMA_CROSSOVER", "EMA_CROSSOVER", "RSI"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("expected %s to be registered: %v", name, err)
		}
	}
	if _, err := r.Get("MACD"); err == nil {
		t.Error("expected error for unknown strategy")
	}

	names := r.Names()
	if len(names) != 3 {
		t.Errorf("expected 3 registered strategies, got %v", names)
	}
}

func TestSMACrossoverBuySignal(t *testing.T) {
	// Flat series, then a sharp rise on the last candle pushes the short
	// average above the long one.
	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = 100
	}
	closes[11] = 110

	s := NewSMACrossover(&stubData{closes: closes})
	signal, err := s.GenerateSignal(context.Background(), "BTCUSDT", map[string]string{"short": "2", "long": "8"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalBuy {
		t.Errorf("expected Buy, got %s", signal)
	}
}

func TestSMACrossoverSellSignal(t *testing.T) {
	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = 100
	}
	closes[11] = 90

	s := NewSMACrossover(&stubData{closes: closes})
	signal, err := s.GenerateSignal(context.Background(), "BTCUSDT", map[string]string{"short": "2", "long": "8"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalSell {
		t.Errorf("expected Sell, got %s", signal)
	}
}

func TestSMACrossoverNoSignalOnFlatSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}

	s := NewSMACrossover(&stubData{closes: closes})
	signal, err := s.GenerateSignal(context.Background(), "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalNone {
		t.Errorf("expected None, got %s", signal)
	}
}

func TestSMACrossoverInvalidParams(t *testing.T) {
	s := NewSMACrossover(&stubData{})
	if _, err := s.GenerateSignal(context.Background(), "BTCUSDT", map[string]string{"short": "50", "long": "10"}); err == nil {
		t.Error("expected error when short >= long")
	}
	if _, err := s.GenerateSignal(context.Background(), "BTCUSDT", map[string]string{"short": "abc"}); err == nil {
		t.Error("expected error for non-numeric param")
	}
}

func TestSMACrossoverInsufficientData(t *testing.T) {
	s := NewSMACrossover(&stubData{closes: []float64{100, 101}})
	signal, err := s.GenerateSignal(context.Background(), "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalNone {
		t.Errorf("expected None with insufficient data, got %s", signal)
	}
}

func TestRSISignals(t *testing.T) {
	// Monotonic decline drives RSI to oversold.
	falling := make([]float64, 45)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	s := NewRSIStrategy(&stubData{closes: falling})
	signal, err := s.GenerateSignal(context.Background(), "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalBuy {
		t.Errorf("expected Buy on oversold, got %s", signal)
	}

	rising := make([]float64, 45)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	s = NewRSIStrategy(&stubData{closes: rising})
	signal, err = s.GenerateSignal(context.Background(), "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if signal != SignalSell {
		t.Errorf("expected Sell on overbought, got %s", signal)
	}
}

func TestRSIInvalidThresholds(t *testing.T) {
	s := NewRSIStrategy(&stubData{})
	_, err := s.GenerateSignal(context.Background(), "BTCUSDT", map[string]string{"oversold": "80", "overbought": "20"})
	if err == nil {
		t.Error("expected error when oversold >= overbought")
	}
}

func TestIndicatorSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	avg, ok := sma(values, 3, 4)
	if !ok || avg != 4 {
		t.Errorf("expected sma 4, got %v ok=%v", avg, ok)
	}
	if _, ok := sma(values, 10, 4); ok {
		t.Error("expected not enough data")
	}
}
