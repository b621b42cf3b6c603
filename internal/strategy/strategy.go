package strategy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"scalp-trading-bot/internal/exchange"
)

// Signal is a strategy's verdict for one symbol on one decision cycle.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalNone Signal = "NONE"
)

// MarketData supplies historical candles to strategies.
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error)
}

// Strategy produces trading signals from market data.
type Strategy interface {
	// Name returns the registry key for this strategy.
	Name() string
	// GenerateSignal evaluates the symbol and returns a signal. Params come
	// from the symbol's strategy config and are strategy-specific.
	GenerateSignal(ctx context.Context, symbol string, params map[string]string) (Signal, error)
}

// Registry maps strategy names to implementations.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its name, replacing any previous entry.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// Names returns all registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with all built-in strategies.
func DefaultRegistry(data MarketData) *Registry {
	r := NewRegistry()
	r.Register(NewSMACrossover(data))
	r.Register(NewEMACrossover(data))
	r.Register(NewRSIStrategy(data))
	return r
}

func paramInt(params map[string]string, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid param %s=%q", key, raw)
	}
	return v, nil
}

func paramFloat(params map[string]string, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid param %s=%q", key, raw)
	}
	return v, nil
}

func paramString(params map[string]string, key, fallback string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return fallback
}

func closes(klines []exchange.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i], _ = k.Close.Float64()
	}
	return out
}
