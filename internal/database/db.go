package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"scalp-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.Component("database")
	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations creates the six tables the bot persists to.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trading_pairs (
			symbol VARCHAR(20) PRIMARY KEY,
			base_asset VARCHAR(10) NOT NULL,
			quote_asset VARCHAR(10) NOT NULL,
			price_precision INTEGER NOT NULL DEFAULT 8,
			quantity_precision INTEGER NOT NULL DEFAULT 8,
			min_order_size DECIMAL(20, 8) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			kind VARCHAR(16) NOT NULL DEFAULT 'SPOT'
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss_price DECIMAL(20, 8),
			take_profit_price DECIMAL(20, 8),
			trailing_stop_pct DECIMAL(10, 6),
			high_watermark DECIMAL(20, 8),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			force_close_at TIMESTAMPTZ NOT NULL,
			exit_price DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			close_reason VARCHAR(32),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// One active position per symbol, enforced at the storage layer too.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_active_symbol
			ON positions(symbol) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			exchange_trade_id BIGINT NOT NULL UNIQUE,
			position_id UUID REFERENCES positions(id) ON DELETE SET NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			type VARCHAR(10) NOT NULL,
			status VARCHAR(20) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			commission DECIMAL(20, 8) NOT NULL DEFAULT 0,
			executed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at)`,

		`CREATE TABLE IF NOT EXISTS strategy_configs (
			symbol VARCHAR(20) PRIMARY KEY,
			strategy_name VARCHAR(64) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			params JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS risk_events (
			id SERIAL PRIMARY KEY,
			position_id UUID,
			symbol VARCHAR(20) NOT NULL,
			type VARCHAR(32) NOT NULL,
			severity VARCHAR(10) NOT NULL DEFAULT 'INFO',
			trigger_price DECIMAL(20, 8),
			message TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_symbol ON risk_events(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_at ON risk_events(at)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			last_price DECIMAL(20, 8) NOT NULL,
			best_bid DECIMAL(20, 8) NOT NULL DEFAULT 0,
			best_ask DECIMAL(20, 8) NOT NULL DEFAULT 0,
			volume_24h DECIMAL(24, 8) NOT NULL DEFAULT 0,
			quote_volume_24h DECIMAL(24, 8) NOT NULL DEFAULT 0,
			change_pct_24h DECIMAL(10, 4) NOT NULL DEFAULT 0,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_data_symbol_at ON market_data(symbol, at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
