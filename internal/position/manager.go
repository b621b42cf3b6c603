package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/config"
	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/risk/calc"
)

// Store is the persistence surface the manager needs.
type Store interface {
	CreatePosition(ctx context.Context, p *database.Position) error
	UpdatePosition(ctx context.Context, p *database.Position) error
	GetActivePosition(ctx context.Context, symbol string) (*database.Position, error)
	ListActivePositions(ctx context.Context) ([]*database.Position, error)
	CountActivePositions(ctx context.Context) (int, error)
	GetStrategyConfig(ctx context.Context, symbol string) (*database.StrategyConfig, error)
	GetTradingPair(ctx context.Context, symbol string) (*database.TradingPair, error)
	CreateTrade(ctx context.Context, t *database.Trade) error
	CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error
}

// Mirror is an optional best-effort cache of active positions.
type Mirror interface {
	StorePosition(ctx context.Context, p *database.Position)
	RemovePosition(ctx context.Context, symbol string)
}

// Manager owns the position lifecycle. All mutations of a symbol's position
// serialize on a per-symbol lock; the exchange order always precedes the
// local write so a failure never leaves half-state.
type Manager struct {
	store   Store
	gateway exchange.Gateway
	bus     *events.Bus
	mirror  Mirror
	cfg     config.TradingConfig
	logger  zerolog.Logger

	locks  *symbolLocks
	halted atomic.Bool

	closeMu sync.Mutex
	closing map[string]bool
}

// NewManager creates a position manager. mirror may be nil.
func NewManager(store Store, gateway exchange.Gateway, bus *events.Bus, mirror Mirror, cfg config.TradingConfig) *Manager {
	return &Manager{
		store:   store,
		gateway: gateway,
		bus:     bus,
		mirror:  mirror,
		cfg:     cfg,
		logger:  logging.Component("position"),
		locks:   newSymbolLocks(),
		closing: make(map[string]bool),
	}
}

// SetHalted enables or disables new position opens. Closes always work.
func (m *Manager) SetHalted(halted bool) {
	m.halted.Store(halted)
}

// Halted reports whether new opens are currently disabled.
func (m *Manager) Halted() bool {
	return m.halted.Load()
}

// GetActive returns the active position for a symbol.
func (m *Manager) GetActive(ctx context.Context, symbol string) (*database.Position, error) {
	p, err := m.store.GetActivePosition(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoActivePosition
	}
	return p, err
}

// ListActive returns all active positions.
func (m *Manager) ListActive(ctx context.Context) ([]*database.Position, error) {
	return m.store.ListActivePositions(ctx)
}

// Open places a market order and records the resulting position. The order
// is submitted before anything is persisted; on exchange failure nothing is
// written locally.
func (m *Manager) Open(ctx context.Context, symbol string, side exchange.Side, entryPrice decimal.Decimal) (*database.Position, error) {
	if m.halted.Load() {
		return nil, ErrTradingHalted
	}

	unlock := m.locks.lock(symbol)
	defer unlock()

	cfg, err := m.store.GetStrategyConfig(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrSymbolNotConfigured
	}
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, ErrSymbolNotConfigured
	}

	pair, err := m.store.GetTradingPair(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load pair metadata: %w", err)
	}
	if side == exchange.SideSell && pair.Kind == database.PairSpot {
		return nil, ErrShortNotAllowed
	}

	if _, err := m.store.GetActivePosition(ctx, symbol); err == nil {
		return nil, ErrPositionExists
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	count, err := m.store.CountActivePositions(ctx)
	if err != nil {
		return nil, err
	}
	if count >= m.cfg.MaxOpenPositions {
		return nil, ErrMaxPositionsReached
	}

	qty, err := calc.QuantityFromNotional(
		decimal.NewFromFloat(m.cfg.PositionNotional), entryPrice,
		pair.QuantityPrecision, pair.MinOrderSize,
	)
	if err != nil {
		return nil, err
	}

	order, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Str("side", string(side)).Msg("open order failed")
		return nil, err
	}

	fillPrice := order.AvgFillPrice()
	if fillPrice.Sign() <= 0 {
		fillPrice = entryPrice
	}

	slPct, tpPct, trailPct := m.riskParams(cfg)
	sl := calc.StopLossPrice(side, fillPrice, slPct)
	tp := calc.TakeProfitPrice(side, fillPrice, tpPct)

	now := time.Now().UTC()
	p := &database.Position{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		Side:            side,
		Quantity:        order.ExecutedQty,
		EntryPrice:      fillPrice,
		StopLossPrice:   &sl,
		TakeProfitPrice: &tp,
		Active:          true,
		OpenedAt:        now,
		ForceCloseAt:    now.Add(m.cfg.MaxHoldingDuration()),
	}
	if trailPct != nil {
		p.TrailingStopPct = trailPct
		hwm := fillPrice
		p.HighWatermark = &hwm
	}

	if err := m.store.CreatePosition(ctx, p); err != nil {
		// Order is live but the row failed; the reconciler will adopt the
		// exposure on its next pass.
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist opened position")
		return nil, err
	}

	m.recordTrade(ctx, order, &p.ID)
	m.recordEvent(ctx, p, database.RiskEventPositionOpened, database.SeverityInfo, &fillPrice,
		fmt.Sprintf("opened %s %s qty=%s entry=%s sl=%s tp=%s", side, symbol, p.Quantity, fillPrice, sl, tp))

	if m.mirror != nil {
		m.mirror.StorePosition(ctx, p)
	}
	m.bus.Publish(events.Event{
		Type: events.EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        string(side),
			"quantity":    p.Quantity.String(),
			"entry_price": fillPrice.String(),
		},
	})

	m.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("quantity", p.Quantity.String()).
		Str("entry_price", fillPrice.String()).
		Msg("position opened")
	return p, nil
}

// Close exits the active position with an opposite-side market order. A
// second Close while the first is in flight returns ErrCloseInProgress;
// after a successful close there is no active position and the caller gets
// ErrNoActivePosition.
func (m *Manager) Close(ctx context.Context, symbol, reason string) (*database.Position, error) {
	m.closeMu.Lock()
	if m.closing[symbol] {
		m.closeMu.Unlock()
		return nil, ErrCloseInProgress
	}
	m.closing[symbol] = true
	m.closeMu.Unlock()

	defer func() {
		m.closeMu.Lock()
		delete(m.closing, symbol)
		m.closeMu.Unlock()
	}()

	unlock := m.locks.lock(symbol)
	defer unlock()

	p, err := m.store.GetActivePosition(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoActivePosition
	}
	if err != nil {
		return nil, err
	}

	order, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     p.Side.Opposite(),
		Type:     exchange.OrderTypeMarket,
		Quantity: p.Quantity,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("close order failed")
		return nil, err
	}

	exitPrice := order.AvgFillPrice()
	now := time.Now().UTC()

	p.Active = false
	p.ClosedAt = &now
	p.ExitPrice = &exitPrice
	p.CloseReason = &reason
	// An emergency position closed before its entry price was supplied has
	// no known cost basis; its PnL stays unset.
	if p.EntryPrice.Sign() > 0 {
		pnl := calc.PnL(p.Side, p.EntryPrice, exitPrice, p.Quantity)
		p.PnL = &pnl
	}
	pnlStr := "n/a"
	if p.PnL != nil {
		pnlStr = p.PnL.String()
	}

	if err := m.store.UpdatePosition(ctx, p); err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist closed position")
		return nil, err
	}

	m.recordTrade(ctx, order, &p.ID)
	m.recordEvent(ctx, p, database.RiskEventPositionClosed, database.SeverityInfo, &exitPrice,
		fmt.Sprintf("closed %s reason=%s exit=%s pnl=%s", symbol, reason, exitPrice, pnlStr))

	if m.mirror != nil {
		m.mirror.RemovePosition(ctx, symbol)
	}
	m.bus.Publish(events.Event{
		Type: events.EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"reason":     reason,
			"exit_price": exitPrice.String(),
			"pnl":        pnlStr,
		},
	})

	m.logger.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Str("exit_price", exitPrice.String()).
		Str("pnl", pnlStr).
		Msg("position closed")
	return p, nil
}

// UpdateStopLoss tightens the stop on an active position. Updates that would
// loosen the stop are rejected.
func (m *Manager) UpdateStopLoss(ctx context.Context, symbol string, newStop decimal.Decimal) (*database.Position, error) {
	unlock := m.locks.lock(symbol)
	defer unlock()

	p, err := m.store.GetActivePosition(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoActivePosition
	}
	if err != nil {
		return nil, err
	}

	if p.StopLossPrice != nil && !calc.MoreProtective(p.Side, newStop, *p.StopLossPrice) {
		return nil, ErrStopNotTighter
	}
	p.StopLossPrice = &newStop
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return nil, err
	}
	if m.mirror != nil {
		m.mirror.StorePosition(ctx, p)
	}
	return p, nil
}

// UpdateTrailing persists a trailing-stop move (watermark plus tightened
// stop) computed by the risk monitor. The caller has already verified the
// new stop is tighter. The row is re-read under the per-symbol lock: a
// close may have won the lock since the caller's read, and writing the
// stale copy back would resurrect the closed position.
func (m *Manager) UpdateTrailing(ctx context.Context, p *database.Position, hwm, newStop decimal.Decimal) error {
	unlock := m.locks.lock(p.Symbol)
	defer unlock()

	current, err := m.store.GetActivePosition(ctx, p.Symbol)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNoActivePosition
	}
	if err != nil {
		return err
	}
	if current.ID != p.ID {
		return ErrNoActivePosition
	}

	current.HighWatermark = &hwm
	current.StopLossPrice = &newStop
	if err := m.store.UpdatePosition(ctx, current); err != nil {
		return err
	}
	if m.mirror != nil {
		m.mirror.StorePosition(ctx, current)
	}
	return nil
}

// SetEntryPrice supplies an entry price for an emergency position adopted by
// the reconciler, computing stop-loss and take-profit from it so the risk
// monitor can start covering it.
func (m *Manager) SetEntryPrice(ctx context.Context, symbol string, entryPrice decimal.Decimal) (*database.Position, error) {
	if entryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}

	unlock := m.locks.lock(symbol)
	defer unlock()

	p, err := m.store.GetActivePosition(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoActivePosition
	}
	if err != nil {
		return nil, err
	}
	if !p.IsEmergency() {
		return nil, ErrNotEmergency
	}

	sl := calc.StopLossPrice(p.Side, entryPrice, decimal.NewFromFloat(m.cfg.DefaultStopLossPct))
	tp := calc.TakeProfitPrice(p.Side, entryPrice, decimal.NewFromFloat(m.cfg.DefaultTakeProfitPct))
	p.EntryPrice = entryPrice
	p.StopLossPrice = &sl
	p.TakeProfitPrice = &tp

	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return nil, err
	}
	if m.mirror != nil {
		m.mirror.StorePosition(ctx, p)
	}
	m.logger.Info().Str("symbol", symbol).Str("entry_price", entryPrice.String()).Msg("entry price set on emergency position")
	return p, nil
}

// riskParams resolves stop-loss, take-profit and trailing percentages from
// per-symbol strategy params, falling back to global defaults.
func (m *Manager) riskParams(cfg *database.StrategyConfig) (sl, tp decimal.Decimal, trailing *decimal.Decimal) {
	sl = paramDecimal(cfg.Params, "stop_loss_pct", decimal.NewFromFloat(m.cfg.DefaultStopLossPct))
	tp = paramDecimal(cfg.Params, "take_profit_pct", decimal.NewFromFloat(m.cfg.DefaultTakeProfitPct))

	trail := paramDecimal(cfg.Params, "trailing_stop_pct", decimal.NewFromFloat(m.cfg.TrailingStopPct))
	if trail.Sign() > 0 {
		trailing = &trail
	}
	return sl, tp, trailing
}

func paramDecimal(params map[string]string, key string, fallback decimal.Decimal) decimal.Decimal {
	if raw, ok := params[key]; ok {
		if v, err := decimal.NewFromString(raw); err == nil {
			return v
		}
	}
	return fallback
}

func (m *Manager) recordTrade(ctx context.Context, order *exchange.Order, positionID *string) {
	t := &database.Trade{
		ExchangeTradeID: order.ExchangeOrderID,
		PositionID:      positionID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Type:            order.Type,
		Status:          order.Status,
		Price:           order.AvgFillPrice(),
		Quantity:        order.ExecutedQty,
		Commission:      order.Commission,
		ExecutedAt:      order.TransactTime,
	}
	if err := m.store.CreateTrade(ctx, t); err != nil {
		m.logger.Warn().Err(err).Str("symbol", order.Symbol).Msg("failed to record trade")
	}
}

func (m *Manager) recordEvent(ctx context.Context, p *database.Position, eventType, severity string, price *decimal.Decimal, msg string) {
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
