package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/config"
	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/position"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetActivePosition(ctx context.Context, symbol string) (*database.Position, error)
	CreatePosition(ctx context.Context, p *database.Position) error
	UpdatePosition(ctx context.Context, p *database.Position) error
	CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error
	GetTradingPair(ctx context.Context, symbol string) (*database.TradingPair, error)
	UpsertTradingPair(ctx context.Context, p *database.TradingPair) error
	GetStrategyConfig(ctx context.Context, symbol string) (*database.StrategyConfig, error)
	UpsertStrategyConfig(ctx context.Context, cfg *database.StrategyConfig) error
}

// Reconciler brings local position state and exchange state back into
// agreement. It runs once at startup and then at a long interval; every
// pass is idempotent, so a pass over an already consistent state changes
// nothing.
type Reconciler struct {
	store    Store
	gateway  exchange.Gateway
	bus      *events.Bus
	mirror   position.Mirror
	cfg      config.TradingConfig
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a reconciler. mirror may be nil.
func New(store Store, gateway exchange.Gateway, bus *events.Bus, mirror position.Mirror, cfg config.TradingConfig) *Reconciler {
	return &Reconciler{
		store:    store,
		gateway:  gateway,
		bus:      bus,
		mirror:   mirror,
		cfg:      cfg,
		logger:   logging.Component("reconcile"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then repeats at the configured interval.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.Run(ctx); err != nil {
		return err
	}
	go r.loop(ctx)
	return nil
}

// Stop halts the periodic loop.
func (r *Reconciler) Stop() {
	close(r.stopChan)
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.ReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconcile pass failed")
			}
		}
	}
}

// Run performs one full reconciliation pass over all configured symbols.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.seedDefaults(ctx); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	for _, symbol := range r.cfg.Pairs {
		if err := r.reconcileSymbol(ctx, symbol); err != nil {
			// One symbol never blocks the rest of the pass.
			r.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to reconcile symbol")
		}
	}
	return nil
}

// seedDefaults creates pair metadata and default strategy configs for
// configured symbols that have none yet. Existing rows are left alone.
func (r *Reconciler) seedDefaults(ctx context.Context) error {
	for _, symbol := range r.cfg.Pairs {
		if _, err := r.store.GetTradingPair(ctx, symbol); errors.Is(err, database.ErrNotFound) {
			pair := &database.TradingPair{
				Symbol:            symbol,
				BaseAsset:         baseAssetOf(symbol, r.cfg.QuoteAsset),
				QuoteAsset:        r.cfg.QuoteAsset,
				PricePrecision:    8,
				QuantityPrecision: 8,
				MinOrderSize:      decimal.Zero,
				Active:            true,
				Kind:              database.PairSpot,
			}
			if err := r.store.UpsertTradingPair(ctx, pair); err != nil {
				return err
			}
			r.logger.Info().Str("symbol", symbol).Msg("seeded trading pair")
		} else if err != nil {
			return err
		}

		if _, err := r.store.GetStrategyConfig(ctx, symbol); errors.Is(err, database.ErrNotFound) {
			cfg := &database.StrategyConfig{
				Symbol:       symbol,
				StrategyName: "SMA_CROSSOVER",
				Active:       true,
				Params:       map[string]string{"short": "10", "long": "50"},
			}
			if err := r.store.UpsertStrategyConfig(ctx, cfg); err != nil {
				return err
			}
			r.logger.Info().Str("symbol", symbol).Msg("seeded default strategy config")
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, symbol string) error {
	pair, err := r.store.GetTradingPair(ctx, symbol)
	if err != nil {
		return err
	}

	local, err := r.store.GetActivePosition(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		local = nil
	} else if err != nil {
		return err
	}

	exch, err := r.gateway.GetExchangePosition(ctx, symbol, pair.BaseAsset)
	if err != nil {
		return err
	}
	dust := decimal.NewFromFloat(r.cfg.DustThreshold)
	exchangeQty := decimal.Zero
	if exch != nil {
		exchangeQty = exch.Quantity
	}
	exchangePresent := exchangeQty.GreaterThanOrEqual(dust) && exchangeQty.Sign() > 0

	switch {
	case local != nil && !exchangePresent:
		return r.markExternallyClosed(ctx, local)
	case local == nil && exchangePresent:
		return r.adoptEmergency(ctx, symbol, exchangeQty)
	case local != nil && exchangePresent:
		return r.alignQuantity(ctx, local, exchangeQty, pair.QuantityPrecision)
	default:
		return nil
	}
}

// markExternallyClosed records that the exchange side disappeared while the
// bot was not looking. PnL is unknown and stays unset.
func (r *Reconciler) markExternallyClosed(ctx context.Context, p *database.Position) error {
	now := time.Now().UTC()
	reason := database.CloseReasonExternalClose
	p.Active = false
	p.ClosedAt = &now
	p.CloseReason = &reason

	if err := r.store.UpdatePosition(ctx, p); err != nil {
		return err
	}
	if r.mirror != nil {
		r.mirror.RemovePosition(ctx, p.Symbol)
	}

	r.recordEvent(ctx, &p.ID, p.Symbol, database.RiskEventExternalClose, database.SeverityWarning,
		"position closed externally while bot was not watching")
	r.bus.Publish(events.Event{
		Type: events.EventExternalClose,
		Data: map[string]interface{}{"symbol": p.Symbol},
	})
	r.logger.Warn().Str("symbol", p.Symbol).Msg("local position closed externally")
	return nil
}

// adoptEmergency records unexplained exchange exposure as a local position
// with no entry price. The risk monitor ignores it until an operator
// supplies the entry price through the admin API.
func (r *Reconciler) adoptEmergency(ctx context.Context, symbol string, qty decimal.Decimal) error {
	now := time.Now().UTC()
	p := &database.Position{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Side:         exchange.SideBuy,
		Quantity:     qty,
		EntryPrice:   decimal.Zero,
		Active:       true,
		OpenedAt:     now,
		ForceCloseAt: now.Add(r.cfg.MaxHoldingDuration()),
	}
	if err := r.store.CreatePosition(ctx, p); err != nil {
		return err
	}
	if r.mirror != nil {
		r.mirror.StorePosition(ctx, p)
	}

	r.recordEvent(ctx, &p.ID, symbol, database.RiskEventEmergency, database.SeverityCritical,
		"unexplained exchange exposure qty="+qty.String()+", adopted as emergency position")
	r.bus.Publish(events.Event{
		Type: events.EventEmergencyPosition,
		Data: map[string]interface{}{"symbol": symbol, "quantity": qty.String()},
	})
	r.logger.Error().Str("symbol", symbol).Str("quantity", qty.String()).Msg("adopted emergency position from exchange exposure")
	return nil
}

// alignQuantity snaps the local quantity to the exchange when they differ
// by more than one unit of the pair's quantity precision.
func (r *Reconciler) alignQuantity(ctx context.Context, p *database.Position, exchangeQty decimal.Decimal, precision int32) error {
	tolerance := decimal.New(1, -precision)
	if p.Quantity.Sub(exchangeQty).Abs().LessThanOrEqual(tolerance) {
		return nil
	}

	old := p.Quantity
	p.Quantity = exchangeQty
	if err := r.store.UpdatePosition(ctx, p); err != nil {
		return err
	}
	if r.mirror != nil {
		r.mirror.StorePosition(ctx, p)
	}

	r.recordEvent(ctx, &p.ID, p.Symbol, database.RiskEventQuantityMismatch, database.SeverityWarning,
		"quantity aligned from "+old.String()+" to "+exchangeQty.String())
	r.bus.Publish(events.Event{
		Type: events.EventReconcileMismatch,
		Data: map[string]interface{}{
			"symbol":       p.Symbol,
			"local_qty":    old.String(),
			"exchange_qty": exchangeQty.String(),
		},
	})
	r.logger.Warn().
		Str("symbol", p.Symbol).
		Str("local_qty", old.String()).
		Str("exchange_qty", exchangeQty.String()).
		Msg("quantity mismatch aligned to exchange")
	return nil
}

func (r *Reconciler) recordEvent(ctx context.Context, positionID *string, symbol, eventType, severity, msg string) {
	e := &database.RiskEvent{
		PositionID: positionID,
		Symbol:     symbol,
		Type:       eventType,
		Severity:   severity,
		Message:    msg,
	}
	if err := r.store.CreateRiskEvent(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to record reconcile event")
	}
}

func baseAssetOf(symbol, quote string) string {
	if quote != "" && len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}
