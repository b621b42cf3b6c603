package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/marketdata"
	"scalp-trading-bot/internal/position"
	"scalp-trading-bot/internal/strategy"
)

// ConfigStore lists the symbols the scheduler drives.
type ConfigStore interface {
	ListActiveStrategyConfigs(ctx context.Context) ([]*database.StrategyConfig, error)
}

// Notifier receives operator-facing alerts. May be nil.
type Notifier interface {
	NotifyError(symbol, message string)
}

// Scheduler runs the decision loop: every cycle it asks each configured
// symbol's strategy for a signal and instructs the position manager. The
// next cycle starts a fixed delay after the previous one completes, so
// cycles never overlap.
type Scheduler struct {
	configs  ConfigStore
	registry *strategy.Registry
	manager  *position.Manager
	market   *marketdata.Service
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a scheduler. notifier may be nil.
func New(configs ConfigStore, registry *strategy.Registry, manager *position.Manager, market *marketdata.Service, notifier Notifier, interval time.Duration) *Scheduler {
	return &Scheduler{
		configs:  configs,
		registry: registry,
		manager:  manager,
		market:   market,
		notifier: notifier,
		interval: interval,
		logger:   logging.Component("scheduler"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the decision loop until Stop is called or ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the loop and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-timer.C:
			s.RunCycle(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunCycle performs one full decision sweep. Exported so callers can drive
// cycles directly.
func (s *Scheduler) RunCycle(ctx context.Context) {
	configs, err := s.configs.ListActiveStrategyConfigs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load strategy configs")
		return
	}

	for _, cfg := range configs {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
		}
		if err := s.evaluateSymbol(ctx, cfg); err != nil {
			if exchange.IsRateLimited(err) {
				// Back off for the rest of the cycle; the next one starts
				// after the full interval anyway.
				s.logger.Warn().Str("symbol", cfg.Symbol).Msg("rate limited, skipping rest of cycle")
				return
			}
			s.logger.Error().Err(err).Str("symbol", cfg.Symbol).Msg("decision cycle failed for symbol")
			if s.notifier != nil {
				s.notifier.NotifyError(cfg.Symbol, err.Error())
			}
		}
	}
}

func (s *Scheduler) evaluateSymbol(ctx context.Context, cfg *database.StrategyConfig) error {
	strat, err := s.registry.Get(cfg.StrategyName)
	if err != nil {
		s.logger.Warn().Str("symbol", cfg.Symbol).Str("strategy", cfg.StrategyName).Msg("unknown strategy, skipping")
		return nil
	}

	signal, err := strat.GenerateSignal(ctx, cfg.Symbol, cfg.Params)
	if err != nil {
		return err
	}
	if signal == strategy.SignalNone {
		return nil
	}

	active, err := s.manager.GetActive(ctx, cfg.Symbol)
	switch {
	case err == nil:
		// Opposite signal closes; a confirming signal is a no-op.
		if sideOf(signal) == active.Side.Opposite() {
			_, err := s.manager.Close(ctx, cfg.Symbol, database.CloseReasonStrategySignal)
			if errors.Is(err, position.ErrCloseInProgress) || errors.Is(err, position.ErrNoActivePosition) {
				return nil
			}
			return err
		}
		return nil

	case errors.Is(err, position.ErrNoActivePosition):
		price, err := s.market.GetPrice(ctx, cfg.Symbol)
		if err != nil {
			return err
		}
		_, err = s.manager.Open(ctx, cfg.Symbol, sideOf(signal), price)
		switch {
		case errors.Is(err, position.ErrPositionExists):
			// A concurrent open won the race; nothing to do.
			return nil
		case errors.Is(err, position.ErrShortNotAllowed),
			errors.Is(err, position.ErrMaxPositionsReached),
			errors.Is(err, position.ErrTradingHalted):
			s.logger.Debug().Err(err).Str("symbol", cfg.Symbol).Str("signal", string(signal)).Msg("open skipped")
			return nil
		}
		return err

	default:
		return err
	}
}

func sideOf(signal strategy.Signal) exchange.Side {
	if signal == strategy.SignalSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
