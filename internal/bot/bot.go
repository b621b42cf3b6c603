package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scalp-trading-bot/config"
	"scalp-trading-bot/internal/api"
	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/marketdata"
	"scalp-trading-bot/internal/metrics"
	"scalp-trading-bot/internal/notification"
	"scalp-trading-bot/internal/position"
	"scalp-trading-bot/internal/reconcile"
	"scalp-trading-bot/internal/risk"
	"scalp-trading-bot/internal/scheduler"
	"scalp-trading-bot/internal/strategy"
	"scalp-trading-bot/internal/vault"
)

// Bot wires and runs all subsystems.
type Bot struct {
	cfg    *config.Config
	logger zerolog.Logger

	db         *database.DB
	repo       *database.Repository
	mirror     *database.RedisMirror
	bus        *events.Bus
	gateway    exchange.Gateway
	notifier   *notification.Manager
	manager    *position.Manager
	market     *marketdata.Service
	stream     *marketdata.Stream
	registry   *strategy.Registry
	scheduler  *scheduler.Scheduler
	monitor    *risk.Monitor
	daily      *risk.DailyGuard
	reconciler *reconcile.Reconciler
	server     *api.Server
}

// New builds the bot from configuration. Nothing starts running until
// Start is called.
func New(cfg *config.Config) (*Bot, error) {
	logging.Setup(cfg.LoggingConfig.Level, cfg.LoggingConfig.Console)
	logger := logging.Component("bot")

	gateway, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	var mirror *database.RedisMirror
	if cfg.RedisConfig.Enabled {
		mirror, err = database.NewRedisMirror(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
		if err != nil {
			// The mirror is best-effort; run without it.
			logger.Warn().Err(err).Msg("redis mirror unavailable, continuing without it")
			mirror = nil
		}
	}

	bus := events.NewBus()

	notifier := notification.NewManager()
	if cfg.NotificationConfig.Enabled {
		notifier.AddSink(notification.NewTelegramSink(
			cfg.NotificationConfig.Telegram.BotToken,
			cfg.NotificationConfig.Telegram.ChatID,
			cfg.NotificationConfig.Telegram.Enabled,
		))
		notifier.AddSink(notification.NewDiscordSink(
			cfg.NotificationConfig.Discord.WebhookURL,
			cfg.NotificationConfig.Discord.Enabled,
		))
	}

	var mirrorIface position.Mirror
	if mirror != nil {
		mirrorIface = mirror
	}
	manager := position.NewManager(repo, gateway, bus, mirrorIface, cfg.TradingConfig)

	market := marketdata.NewService(gateway, bus, repo)
	stream := marketdata.NewStream(market, cfg.TradingConfig.Pairs, cfg.BinanceConfig.WSBaseURL)
	registry := strategy.DefaultRegistry(market)

	sched := scheduler.New(repo, registry, manager, market, notifier, cfg.TradingConfig.DecisionInterval())

	daily := risk.NewDailyGuard(manager, repo, bus, notifier,
		cfg.TradingConfig.InitialCapital,
		cfg.TradingConfig.MaxDailyLossPct,
		cfg.TradingConfig.EmergencyStopPct,
	)
	monitor := risk.NewMonitor(manager, market, repo, bus, notifier, daily, cfg.TradingConfig.RiskInterval())

	reconciler := reconcile.New(repo, gateway, bus, mirrorIface, cfg.TradingConfig)

	metricsSvc := metrics.NewService(repo, cfg.TradingConfig.InitialCapital)

	var authSvc *api.AuthService
	if cfg.AuthConfig.Enabled {
		authSvc = api.NewAuthService(cfg.AuthConfig.JWTSecret, "admin", cfg.AuthConfig.AdminPasswordHash)
	}
	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: !cfg.LoggingConfig.Console,
		AllowOrigins:   parseOrigins(cfg.ServerConfig.AllowedOrigins),
	}, repo, manager, metricsSvc, registry, gateway, authSvc)

	return &Bot{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		repo:       repo,
		mirror:     mirror,
		bus:        bus,
		gateway:    gateway,
		notifier:   notifier,
		manager:    manager,
		market:     market,
		stream:     stream,
		registry:   registry,
		scheduler:  sched,
		monitor:    monitor,
		daily:      daily,
		reconciler: reconciler,
		server:     server,
	}, nil
}

// buildGateway selects the mock or real exchange adapter and resolves
// credentials, preferring Vault when enabled.
func buildGateway(cfg *config.Config) (exchange.Gateway, error) {
	if cfg.BinanceConfig.MockMode {
		return exchange.NewMockGateway(), nil
	}

	apiKey := cfg.BinanceConfig.APIKey
	secretKey := cfg.BinanceConfig.SecretKey

	if cfg.VaultConfig.Enabled {
		vc, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		creds, err := vc.ExchangeCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		apiKey = creds.APIKey
		secretKey = creds.SecretKey
	}

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("bot: exchange credentials not configured")
	}
	return exchange.NewBinanceGateway(exchange.BinanceConfig{
		APIKey:       apiKey,
		SecretKey:    secretKey,
		BaseURL:      cfg.BinanceConfig.BaseURL,
		RecvWindowMs: cfg.BinanceConfig.RecvWindowMs,
	}), nil
}

// Start reconciles state, then launches every loop. The startup reconcile
// must succeed; running blind against unknown exchange state is worse than
// not starting.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	if err := b.daily.Seed(ctx); err != nil {
		return fmt.Errorf("seed daily guard: %w", err)
	}

	b.stream.Start()
	b.monitor.Start(ctx)
	b.scheduler.Start(ctx)
	b.server.Start()

	b.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"pairs": strings.Join(b.cfg.TradingConfig.Pairs, ","),
	}})
	b.logger.Info().Strs("pairs", b.cfg.TradingConfig.Pairs).Msg("bot started")
	return nil
}

// Stop shuts every loop down within the configured deadline.
func (b *Bot) Stop() {
	b.logger.Info().Msg("bot stopping")
	b.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{}})

	timeout := time.Duration(b.cfg.ServerConfig.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b.scheduler.Stop()
	b.monitor.Stop()
	b.reconciler.Stop()
	b.stream.Stop()

	if err := b.server.Shutdown(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("admin API shutdown failed")
	}
	if b.mirror != nil {
		if err := b.mirror.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("redis close failed")
		}
	}
	b.db.Close()
	b.logger.Info().Msg("bot stopped")
}

func parseOrigins(raw string) []string {
	if raw == "" || raw == "*" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
