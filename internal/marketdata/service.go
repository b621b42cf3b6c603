package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
)

// maxTickerAge is how stale a cached ticker may be before a price read
// falls back to a REST fetch.
const maxTickerAge = 5 * time.Second

// snapshotInterval throttles how often a symbol's ticker is persisted.
const snapshotInterval = time.Minute

// SnapshotStore persists ticker rows. May be nil.
type SnapshotStore interface {
	CreateMarketSnapshot(ctx context.Context, s *database.MarketSnapshot) error
}

// Service caches live tickers fed by the websocket stream and serves candle
// history. The stream keeps the cache hot; consumers that find it stale go
// through REST.
type Service struct {
	gateway exchange.Gateway
	bus     *events.Bus
	store   SnapshotStore
	logger  zerolog.Logger

	mu           sync.RWMutex
	tickers      map[string]*exchange.Ticker
	lastSnapshot map[string]time.Time
}

// NewService creates a market data service. store may be nil.
func NewService(gateway exchange.Gateway, bus *events.Bus, store SnapshotStore) *Service {
	return &Service{
		gateway:      gateway,
		bus:          bus,
		store:        store,
		logger:       logging.Component("marketdata"),
		tickers:      make(map[string]*exchange.Ticker),
		lastSnapshot: make(map[string]time.Time),
	}
}

// UpdateTicker ingests a ticker from the stream, publishes a market tick and
// occasionally persists a snapshot.
func (s *Service) UpdateTicker(ctx context.Context, t *exchange.Ticker) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	s.mu.Lock()
	s.tickers[t.Symbol] = t
	persist := s.store != nil && time.Since(s.lastSnapshot[t.Symbol]) >= snapshotInterval
	if persist {
		s.lastSnapshot[t.Symbol] = time.Now()
	}
	s.mu.Unlock()

	s.bus.PublishTick(t.Symbol, t.LastPrice.String())

	if persist {
		snap := &database.MarketSnapshot{
			Symbol:         t.Symbol,
			LastPrice:      t.LastPrice,
			BestBid:        t.BestBid,
			BestAsk:        t.BestAsk,
			Volume24h:      t.Volume24h,
			QuoteVolume24h: t.QuoteVolume24h,
			ChangePct24h:   t.ChangePct24h,
			At:             t.At,
		}
		if err := s.store.CreateMarketSnapshot(ctx, snap); err != nil {
			s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("failed to persist market snapshot")
		}
	}
}

// GetPrice returns the current price for a symbol, from the stream cache
// when fresh, otherwise via REST.
func (s *Service) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	t, ok := s.tickers[symbol]
	s.mu.RUnlock()

	if ok && time.Since(t.At) <= maxTickerAge {
		return t.LastPrice, nil
	}

	fresh, err := s.gateway.GetTicker(ctx, symbol)
	if err != nil {
		// Serve the stale cached price rather than nothing.
		if ok {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("ticker fetch failed, serving stale price")
			return t.LastPrice, nil
		}
		return decimal.Zero, err
	}

	s.mu.Lock()
	s.tickers[symbol] = fresh
	s.mu.Unlock()
	return fresh.LastPrice, nil
}

// GetKlines returns candle history for a symbol.
func (s *Service) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return s.gateway.GetKlines(ctx, symbol, interval, limit)
}
