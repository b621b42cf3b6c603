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
	"scalp-trading-bot/internal/position"
)

var hundred = decimal.NewFromInt(100)

// DailyStore reads closed positions for seeding the day's realized PnL.
type DailyStore interface {
	ClosedPositionsSince(ctx context.Context, since time.Time) ([]*database.Position, error)
	CreateRiskEvent(ctx context.Context, e *database.RiskEvent) error
}

// DailyGuard tracks realized PnL per UTC day and halts trading when losses
// exceed the configured share of initial capital. An emergency threshold
// below the hard limit produces an early warning. The halt lifts at the
// next UTC midnight.
type DailyGuard struct {
	manager        *position.Manager
	store          DailyStore
	bus            *events.Bus
	notifier       Notifier
	initialCapital decimal.Decimal
	maxLossPct     decimal.Decimal
	emergencyPct   decimal.Decimal
	logger         zerolog.Logger

	mu       sync.Mutex
	day      time.Time
	realized decimal.Decimal
	tripped  bool
	warned   bool
}

// NewDailyGuard creates the guard. notifier may be nil.
func NewDailyGuard(manager *position.Manager, store DailyStore, bus *events.Bus, notifier Notifier, initialCapital, maxLossPct, emergencyPct float64) *DailyGuard {
	return &DailyGuard{
		manager:        manager,
		store:          store,
		bus:            bus,
		notifier:       notifier,
		initialCapital: decimal.NewFromFloat(initialCapital),
		maxLossPct:     decimal.NewFromFloat(maxLossPct),
		emergencyPct:   decimal.NewFromFloat(emergencyPct),
		logger:         logging.Component("dailyguard"),
	}
}

// Seed loads today's realized PnL from closed positions so a restart keeps
// the loss accounting intact.
func (g *DailyGuard) Seed(ctx context.Context) error {
	midnight := utcMidnight(time.Now().UTC())
	closed, err := g.store.ClosedPositionsSince(ctx, midnight)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, p := range closed {
		if p.PnL != nil {
			total = total.Add(*p.PnL)
		}
	}

	g.mu.Lock()
	g.day = midnight
	g.realized = total
	g.mu.Unlock()

	g.logger.Info().Str("realized", total.String()).Msg("daily loss guard seeded")
	g.evaluate(ctx)
	return nil
}

// RecordClose feeds one realized PnL into the day's running total.
func (g *DailyGuard) RecordClose(ctx context.Context, pnl decimal.Decimal) {
	g.mu.Lock()
	g.rollDayLocked()
	g.realized = g.realized.Add(pnl)
	g.mu.Unlock()

	g.evaluate(ctx)
}

// RealizedToday returns the day's realized PnL.
func (g *DailyGuard) RealizedToday() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.realized
}

// Tick rolls the accounting day over and lifts the halt at UTC midnight.
// Called from the periodic risk sweep.
func (g *DailyGuard) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
}

func (g *DailyGuard) rollDayLocked() {
	midnight := utcMidnight(time.Now().UTC())
	if midnight.After(g.day) {
		g.day = midnight
		g.realized = decimal.Zero
		if g.tripped {
			g.tripped = false
			g.manager.SetHalted(false)
			g.logger.Info().Msg("daily loss halt lifted at UTC midnight")
		}
		g.warned = false
	}
}

func (g *DailyGuard) evaluate(ctx context.Context) {
	g.mu.Lock()
	realized := g.realized
	tripped := g.tripped
	warned := g.warned
	g.mu.Unlock()

	if realized.Sign() >= 0 || g.initialCapital.Sign() <= 0 {
		return
	}
	lossPct := realized.Neg().Div(g.initialCapital).Mul(hundred)

	if !warned && lossPct.GreaterThanOrEqual(g.emergencyPct) && lossPct.LessThan(g.maxLossPct) {
		g.mu.Lock()
		g.warned = true
		g.mu.Unlock()
		g.logger.Warn().Str("loss_pct", lossPct.String()).Msg("approaching daily loss limit")
		if g.notifier != nil {
			g.notifier.Notify(events.EventDailyLossLimit, "", "approaching daily loss limit: "+lossPct.StringFixed(2)+"%")
		}
		return
	}

	if tripped || lossPct.LessThan(g.maxLossPct) {
		return
	}

	g.mu.Lock()
	g.tripped = true
	g.mu.Unlock()
	g.trip(ctx, lossPct)
}

// trip halts new opens and flattens every active position.
func (g *DailyGuard) trip(ctx context.Context, lossPct decimal.Decimal) {
	g.manager.SetHalted(true)
	g.logger.Error().Str("loss_pct", lossPct.String()).Msg("daily loss limit breached, halting trading")

	e := &database.RiskEvent{
		Symbol:   "",
		Type:     database.RiskEventDailyLossLimit,
		Severity: database.SeverityCritical,
		Message:  "daily loss limit breached at " + lossPct.StringFixed(2) + "%, trading halted",
	}
	if err := g.store.CreateRiskEvent(ctx, e); err != nil {
		g.logger.Warn().Err(err).Msg("failed to record daily loss event")
	}

	g.bus.Publish(events.Event{
		Type: events.EventDailyLossLimit,
		Data: map[string]interface{}{"loss_pct": lossPct.String()},
	})
	if g.notifier != nil {
		g.notifier.Notify(events.EventDailyLossLimit, "", "daily loss limit breached, closing all positions")
	}

	active, err := g.manager.ListActive(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to list positions for daily loss flatten")
		return
	}
	for _, p := range active {
		_, err := g.manager.Close(ctx, p.Symbol, database.CloseReasonDailyLossLimit)
		if err != nil && !errors.Is(err, position.ErrCloseInProgress) && !errors.Is(err, position.ErrNoActivePosition) {
			g.logger.Error().Err(err).Str("symbol", p.Symbol).Msg("failed to flatten position")
		}
	}
}

func utcMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
