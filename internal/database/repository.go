package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("database: not found")

// Repository provides data access methods over the six tables.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// POSITIONS
// ============================================================================

const positionColumns = `id, symbol, side, quantity, entry_price, stop_loss_price,
	take_profit_price, trailing_stop_pct, high_watermark, active, opened_at,
	closed_at, force_close_at, exit_price, pnl, close_reason, created_at, updated_at`

// CreatePosition inserts a new position. The partial unique index on
// (symbol) WHERE active backs up the manager's one-active-per-symbol rule.
func (r *Repository) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (id, symbol, side, quantity, entry_price, stop_loss_price,
			take_profit_price, trailing_stop_pct, high_watermark, active, opened_at, force_close_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		p.ID, p.Symbol, p.Side, p.Quantity, p.EntryPrice,
		nullableDecimal(p.StopLossPrice), nullableDecimal(p.TakeProfitPrice),
		nullableDecimal(p.TrailingStopPct), nullableDecimal(p.HighWatermark),
		p.Active, p.OpenedAt, p.ForceCloseAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// UpdatePosition persists mutable fields of an open position or marks it
// closed. Closed rows never change again except for archival deletion.
func (r *Repository) UpdatePosition(ctx context.Context, p *Position) error {
	query := `
		UPDATE positions
		SET quantity = $2, stop_loss_price = $3, take_profit_price = $4,
		    trailing_stop_pct = $5, high_watermark = $6, active = $7,
		    closed_at = $8, exit_price = $9, pnl = $10, close_reason = $11,
		    entry_price = $12, force_close_at = $13, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(
		ctx, query,
		p.ID, p.Quantity,
		nullableDecimal(p.StopLossPrice), nullableDecimal(p.TakeProfitPrice),
		nullableDecimal(p.TrailingStopPct), nullableDecimal(p.HighWatermark),
		p.Active, p.ClosedAt, nullableDecimal(p.ExitPrice), nullableDecimal(p.PnL),
		p.CloseReason, p.EntryPrice, p.ForceCloseAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActivePosition returns the active position for a symbol, or ErrNotFound.
func (r *Repository) GetActivePosition(ctx context.Context, symbol string) (*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE symbol = $1 AND active`, positionColumns)
	return r.queryPosition(ctx, query, symbol)
}

// GetPositionByID returns one position by id, or ErrNotFound.
func (r *Repository) GetPositionByID(ctx context.Context, id string) (*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE id = $1`, positionColumns)
	return r.queryPosition(ctx, query, id)
}

// ListActivePositions returns all active positions.
func (r *Repository) ListActivePositions(ctx context.Context) ([]*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE active ORDER BY opened_at`, positionColumns)
	return r.queryPositions(ctx, query)
}

// ListClosedPositions returns closed positions ordered ascending by close
// time; the metrics service walks this as the equity curve.
func (r *Repository) ListClosedPositions(ctx context.Context) ([]*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE NOT active ORDER BY closed_at ASC`, positionColumns)
	return r.queryPositions(ctx, query)
}

// ListPositionHistory returns closed positions for one symbol, newest first.
func (r *Repository) ListPositionHistory(ctx context.Context, symbol string) ([]*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE symbol = $1 AND NOT active ORDER BY closed_at DESC`, positionColumns)
	return r.queryPositions(ctx, query, symbol)
}

// ClosedPositionsSince returns closed positions with closed_at >= since,
// ascending. Used by the daily-loss guard.
func (r *Repository) ClosedPositionsSince(ctx context.Context, since time.Time) ([]*Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE NOT active AND closed_at >= $1 ORDER BY closed_at ASC`, positionColumns)
	return r.queryPositions(ctx, query, since)
}

// CountActivePositions returns the number of active positions.
func (r *Repository) CountActivePositions(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions WHERE active`).Scan(&n)
	return n, err
}

func (r *Repository) queryPosition(ctx context.Context, query string, args ...interface{}) (*Position, error) {
	p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*Position, error) {
	p := &Position{}
	var stopLoss, takeProfit, trailing, hwm, exitPrice, pnl decimal.NullDecimal
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Side, &p.Quantity, &p.EntryPrice,
		&stopLoss, &takeProfit, &trailing, &hwm,
		&p.Active, &p.OpenedAt, &p.ClosedAt, &p.ForceCloseAt,
		&exitPrice, &pnl, &p.CloseReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StopLossPrice = fromNullDecimal(stopLoss)
	p.TakeProfitPrice = fromNullDecimal(takeProfit)
	p.TrailingStopPct = fromNullDecimal(trailing)
	p.HighWatermark = fromNullDecimal(hwm)
	p.ExitPrice = fromNullDecimal(exitPrice)
	p.PnL = fromNullDecimal(pnl)
	return p, nil
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade inserts a fill record. Duplicate exchange trade ids are
// silently skipped so replays stay idempotent.
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	query := `
		INSERT INTO trades (exchange_trade_id, position_id, symbol, side, type, status,
			price, quantity, commission, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange_trade_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		t.ExchangeTradeID, t.PositionID, t.Symbol, t.Side, t.Type, t.Status,
		t.Price, t.Quantity, t.Commission, t.ExecutedAt,
	)
	return err
}

// ListTradeHistory returns fills for a symbol, newest first. An empty symbol
// returns everything.
func (r *Repository) ListTradeHistory(ctx context.Context, symbol string) ([]*Trade, error) {
	query := `
		SELECT id, exchange_trade_id, position_id, symbol, side, type, status,
		       price, quantity, commission, executed_at, created_at
		FROM trades
	`
	var args []interface{}
	if symbol != "" {
		query += ` WHERE symbol = $1`
		args = append(args, symbol)
	}
	query += ` ORDER BY executed_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		err := rows.Scan(
			&t.ID, &t.ExchangeTradeID, &t.PositionID, &t.Symbol, &t.Side, &t.Type,
			&t.Status, &t.Price, &t.Quantity, &t.Commission, &t.ExecutedAt, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// STRATEGY CONFIGS
// ============================================================================

// UpsertStrategyConfig creates or replaces the config for a symbol.
func (r *Repository) UpsertStrategyConfig(ctx context.Context, cfg *StrategyConfig) error {
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("marshal strategy params: %w", err)
	}
	query := `
		INSERT INTO strategy_configs (symbol, strategy_name, active, params)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE
		SET strategy_name = EXCLUDED.strategy_name,
		    active = EXCLUDED.active,
		    params = EXCLUDED.params,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query, cfg.Symbol, cfg.StrategyName, cfg.Active, params).
		Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
}

// GetStrategyConfig returns the config for one symbol, or ErrNotFound.
func (r *Repository) GetStrategyConfig(ctx context.Context, symbol string) (*StrategyConfig, error) {
	query := `
		SELECT symbol, strategy_name, active, params, created_at, updated_at
		FROM strategy_configs WHERE symbol = $1
	`
	cfg, err := scanStrategyConfig(r.db.Pool.QueryRow(ctx, query, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListStrategyConfigs returns every config, active or not.
func (r *Repository) ListStrategyConfigs(ctx context.Context) ([]*StrategyConfig, error) {
	query := `
		SELECT symbol, strategy_name, active, params, created_at, updated_at
		FROM strategy_configs ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*StrategyConfig
	for rows.Next() {
		cfg, err := scanStrategyConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// ListActiveStrategyConfigs returns all active configs.
func (r *Repository) ListActiveStrategyConfigs(ctx context.Context) ([]*StrategyConfig, error) {
	query := `
		SELECT symbol, strategy_name, active, params, created_at, updated_at
		FROM strategy_configs WHERE active ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*StrategyConfig
	for rows.Next() {
		cfg, err := scanStrategyConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// DeleteStrategyConfig removes the config for a symbol.
func (r *Repository) DeleteStrategyConfig(ctx context.Context, symbol string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM strategy_configs WHERE symbol = $1`, symbol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStrategyConfig(row rowScanner) (*StrategyConfig, error) {
	cfg := &StrategyConfig{}
	var params []byte
	if err := row.Scan(&cfg.Symbol, &cfg.StrategyName, &cfg.Active, &params, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &cfg.Params); err != nil {
			return nil, fmt.Errorf("unmarshal strategy params: %w", err)
		}
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	return cfg, nil
}

// ============================================================================
// RISK EVENTS
// ============================================================================

// CreateRiskEvent appends an audit record.
func (r *Repository) CreateRiskEvent(ctx context.Context, e *RiskEvent) error {
	query := `
		INSERT INTO risk_events (position_id, symbol, type, severity, trigger_price, message, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return r.db.Pool.QueryRow(
		ctx, query,
		e.PositionID, e.Symbol, e.Type, e.Severity, nullableDecimal(e.TriggerPrice), e.Message, e.At,
	).Scan(&e.ID)
}

// ListRiskEvents returns recent audit records, newest first.
func (r *Repository) ListRiskEvents(ctx context.Context, limit int) ([]*RiskEvent, error) {
	query := `
		SELECT id, position_id, symbol, type, severity, trigger_price, message, at
		FROM risk_events ORDER BY at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RiskEvent
	for rows.Next() {
		e := &RiskEvent{}
		var trigger decimal.NullDecimal
		if err := rows.Scan(&e.ID, &e.PositionID, &e.Symbol, &e.Type, &e.Severity, &trigger, &e.Message, &e.At); err != nil {
			return nil, err
		}
		e.TriggerPrice = fromNullDecimal(trigger)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ============================================================================
// TRADING PAIRS
// ============================================================================

// UpsertTradingPair inserts pair metadata, updating only the mutable flag.
func (r *Repository) UpsertTradingPair(ctx context.Context, p *TradingPair) error {
	query := `
		INSERT INTO trading_pairs (symbol, base_asset, quote_asset, price_precision,
			quantity_precision, min_order_size, active, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET active = EXCLUDED.active
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		p.Symbol, p.BaseAsset, p.QuoteAsset, p.PricePrecision,
		p.QuantityPrecision, p.MinOrderSize, p.Active, p.Kind,
	)
	return err
}

// GetTradingPair returns pair metadata, or ErrNotFound.
func (r *Repository) GetTradingPair(ctx context.Context, symbol string) (*TradingPair, error) {
	query := `
		SELECT symbol, base_asset, quote_asset, price_precision, quantity_precision,
		       min_order_size, active, kind
		FROM trading_pairs WHERE symbol = $1
	`
	p := &TradingPair{}
	err := r.db.Pool.QueryRow(ctx, query, symbol).Scan(
		&p.Symbol, &p.BaseAsset, &p.QuoteAsset, &p.PricePrecision,
		&p.QuantityPrecision, &p.MinOrderSize, &p.Active, &p.Kind,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListTradingPairs returns all pairs.
func (r *Repository) ListTradingPairs(ctx context.Context) ([]*TradingPair, error) {
	query := `
		SELECT symbol, base_asset, quote_asset, price_precision, quantity_precision,
		       min_order_size, active, kind
		FROM trading_pairs ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*TradingPair
	for rows.Next() {
		p := &TradingPair{}
		err := rows.Scan(
			&p.Symbol, &p.BaseAsset, &p.QuoteAsset, &p.PricePrecision,
			&p.QuantityPrecision, &p.MinOrderSize, &p.Active, &p.Kind,
		)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ============================================================================
// MARKET DATA
// ============================================================================

// CreateMarketSnapshot persists a ticker row.
func (r *Repository) CreateMarketSnapshot(ctx context.Context, s *MarketSnapshot) error {
	query := `
		INSERT INTO market_data (symbol, last_price, best_bid, best_ask, volume_24h,
			quote_volume_24h, change_pct_24h, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.Symbol, s.LastPrice, s.BestBid, s.BestAsk, s.Volume24h,
		s.QuoteVolume24h, s.ChangePct24h, s.At,
	).Scan(&s.ID)
}

// ============================================================================
// HELPERS
// ============================================================================

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
