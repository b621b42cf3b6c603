package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/marketdata"
	"scalp-trading-bot/internal/position"
	"scalp-trading-bot/internal/risk/calc"
)

// maxCachedPriceAge is how stale a cached tick may be before the periodic
// sweep refetches the price.
const maxCachedPriceAge = 5 * time.Second

// EventStore records risk audit events.
type EventStore interface {
	CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error
}

// Notifier pushes operator alerts. May be nil.
type Notifier interface {
	Notify(eventType events.EventType, symbol, message string)
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// Monitor enforces stop-loss, take-profit, trailing-stop and holding-time
// limits on every active position. It reacts to market ticks as they arrive
// and additionally sweeps all positions at a fixed rate so a quiet feed
// cannot stall risk checks.
type Monitor struct {
	manager  *position.Manager
	market   *marketdata.Service
	store    EventStore
	bus      *events.Bus
	notifier Notifier
	daily    *DailyGuard
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	prices map[string]cachedPrice

	stopChan chan struct{}
	done     chan struct{}
}

// NewMonitor creates a risk monitor. notifier and daily may be nil.
func NewMonitor(manager *position.Manager, market *marketdata.Service, store EventStore, bus *events.Bus, notifier Notifier, daily *DailyGuard, interval time.Duration) *Monitor {
	return &Monitor{
		manager:  manager,
		market:   market,
		store:    store,
		bus:      bus,
		notifier: notifier,
		daily:    daily,
		interval: interval,
		logger:   logging.Component("risk"),
		prices:   make(map[string]cachedPrice),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to market ticks and launches the periodic sweep.
func (m *Monitor) Start(ctx context.Context) {
	m.bus.Subscribe(events.EventMarketTick, func(e events.Event) {
		m.onTick(ctx, e)
	})
	go m.sweepLoop(ctx)
}

// Stop halts the periodic sweep.
func (m *Monitor) Stop() {
	close(m.stopChan)
	<-m.done
}

func (m *Monitor) onTick(ctx context.Context, e events.Event) {
	symbol, _ := e.Data["symbol"].(string)
	raw, _ := e.Data["last_price"].(string)
	if symbol == "" || raw == "" {
		return
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.prices[symbol] = cachedPrice{price: price, at: time.Now()}
	m.mu.Unlock()

	p, err := m.manager.GetActive(ctx, symbol)
	if err != nil {
		return
	}
	m.CheckPosition(ctx, p, price)
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs the ordered checks over every active position once. Exported
// so callers can drive sweeps directly.
func (m *Monitor) Sweep(ctx context.Context) {
	positions, err := m.manager.ListActive(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list active positions")
		return
	}

	for _, p := range positions {
		price, ok := m.priceFor(ctx, p.Symbol)
		if !ok {
			continue
		}
		m.CheckPosition(ctx, p, price)
	}
}

func (m *Monitor) priceFor(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	m.mu.RLock()
	cached, ok := m.prices[symbol]
	m.mu.RUnlock()

	if ok && time.Since(cached.at) <= maxCachedPriceAge {
		return cached.price, true
	}

	price, err := m.market.GetPrice(ctx, symbol)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("no price available for risk check")
		return decimal.Zero, false
	}
	m.mu.Lock()
	m.prices[symbol] = cachedPrice{price: price, at: time.Now()}
	m.mu.Unlock()
	return price, true
}

// CheckPosition runs the ordered risk checks for one position at the given
// price: trailing update first, then stop-loss, then take-profit on the
// re-read position, then the holding-time limit. Stop-loss wins when both
// stop and target would fire on the same tick.
func (m *Monitor) CheckPosition(ctx context.Context, p *database.Position, price decimal.Decimal) {
	// Emergency positions have no entry price; nothing to check until an
	// operator supplies one.
	if p.IsEmergency() {
		return
	}

	m.updateTrailing(ctx, p, price)

	if p.StopLossPrice != nil && calc.StopHit(p.Side, price, *p.StopLossPrice) {
		m.closePosition(ctx, p, price, database.CloseReasonStopLoss, database.RiskEventStopLoss, events.EventStopLossTriggered)
		return
	}

	// Re-read: the stop check (or a concurrent actor) may have closed it.
	current, err := m.manager.GetActive(ctx, p.Symbol)
	if err != nil {
		return
	}
	if current.TakeProfitPrice != nil && calc.TargetHit(current.Side, price, *current.TakeProfitPrice) {
		m.closePosition(ctx, current, price, database.CloseReasonTakeProfit, database.RiskEventTakeProfit, events.EventTakeProfitTriggered)
		return
	}

	if !time.Now().UTC().Before(current.ForceCloseAt) {
		m.closePosition(ctx, current, price, database.CloseReasonTimeLimit, database.RiskEventTimeLimit, events.EventTimeLimitClose)
	}
}

func (m *Monitor) updateTrailing(ctx context.Context, p *database.Position, price decimal.Decimal) {
	if p.TrailingStopPct == nil || p.HighWatermark == nil {
		return
	}

	newHwm, proposed := calc.TrailingStop(p.Side, *p.HighWatermark, price, *p.TrailingStopPct)
	if p.StopLossPrice != nil && !calc.MoreProtective(p.Side, proposed, *p.StopLossPrice) {
		return
	}

	if err := m.manager.UpdateTrailing(ctx, p, newHwm, proposed); err != nil {
		if errors.Is(err, position.ErrNoActivePosition) {
			// Closed since our read; nothing left to trail.
			return
		}
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to persist trailing stop update")
		return
	}

	m.recordEvent(ctx, p, database.RiskEventTrailingUpdate, database.SeverityInfo, &proposed,
		"trailing stop tightened to "+proposed.String())
	m.bus.Publish(events.Event{
		Type: events.EventTrailingStopUpdated,
		Data: map[string]interface{}{
			"symbol":    p.Symbol,
			"stop":      proposed.String(),
			"watermark": newHwm.String(),
		},
	})
}

func (m *Monitor) closePosition(ctx context.Context, p *database.Position, price decimal.Decimal, reason, eventType string, busEvent events.EventType) {
	closed, err := m.manager.Close(ctx, p.Symbol, reason)
	if err != nil {
		if errors.Is(err, position.ErrCloseInProgress) || errors.Is(err, position.ErrNoActivePosition) {
			return
		}
		// Retried on the next tick or sweep.
		m.logger.Error().Err(err).Str("symbol", p.Symbol).Str("reason", reason).Msg("risk close failed")
		if m.notifier != nil {
			m.notifier.Notify(events.EventError, p.Symbol, "risk close failed: "+err.Error())
		}
		return
	}

	m.recordEvent(ctx, closed, eventType, database.SeverityWarning, &price,
		reason+" at "+price.String())
	m.bus.Publish(events.Event{
		Type: busEvent,
		Data: map[string]interface{}{
			"symbol": p.Symbol,
			"price":  price.String(),
			"reason": reason,
		},
	})
	if m.notifier != nil {
		m.notifier.Notify(busEvent, p.Symbol, reason+" close at "+price.String())
	}
	if m.daily != nil && closed.PnL != nil {
		m.daily.RecordClose(ctx, *closed.PnL)
	}
}

func (m *Monitor) recordEvent(ctx context.Context, p *database.Position, eventType, severity string, price *decimal.Decimal, msg string) {
	e := &database.RiskEvent{
		PositionID:   &p.ID,
		Symbol:       p.Symbol,
		Type:         eventType,
		Severity:     severity,
		TriggerPrice: price,
		Message:      msg,
	}
	if err := m.store.CreateRiskEvent(ctx, e); err != nil {
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to record risk event")
	}
}
