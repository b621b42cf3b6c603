package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the bot.
type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	VaultConfig        VaultConfig        `json:"vault"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	TradingConfig      TradingConfig      `json:"trading"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BinanceConfig holds exchange connection settings.
type BinanceConfig struct {
	APIKey       string `json:"api_key"`
	SecretKey    string `json:"secret_key"`
	BaseURL      string `json:"base_url"`
	WSBaseURL    string `json:"ws_base_url"`
	RecvWindowMs int    `json:"recv_window_ms"`
	MockMode     bool   `json:"mock_mode"` // Use the in-memory exchange instead of real orders
}

// VaultConfig holds optional HashiCorp Vault settings for exchange credentials.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// RedisConfig holds Redis settings for the position state mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// TradingConfig holds the trading and risk parameters.
type TradingConfig struct {
	Pairs                 []string `json:"pairs"`                   // e.g. ["BTCUSDT", "ETHUSDT"]
	QuoteAsset            string   `json:"quote_asset"`             // "USDT"
	PositionNotional      float64  `json:"position_notional"`       // Quote currency per position
	MaxOpenPositions      int      `json:"max_open_positions"`      // Maximum concurrent positions
	DefaultStopLossPct    float64  `json:"default_stop_loss_pct"`   // e.g. 1.5
	DefaultTakeProfitPct  float64  `json:"default_take_profit_pct"` // e.g. 3.0
	TrailingStopPct       float64  `json:"trailing_stop_pct"`       // 0 disables trailing
	MaxHoldingMinutes     int      `json:"max_holding_minutes"`     // Force-close age
	MaxDailyLossPct       float64  `json:"max_daily_loss_pct"`      // Halt opens for the day
	EmergencyStopPct      float64  `json:"emergency_stop_pct"`      // Early-warning threshold
	DecisionIntervalSecs  int      `json:"decision_interval_secs"`  // Strategy sweep delay
	RiskIntervalSecs      int      `json:"risk_interval_secs"`      // Risk monitor fallback rate
	ReconcileIntervalSecs int      `json:"reconcile_interval_secs"` // Reconciler period
	InitialCapital        float64  `json:"initial_capital"`         // Drawdown baseline
	DustThreshold         float64  `json:"dust_threshold"`          // Min base balance counted as a position
}

// ServerConfig holds the admin HTTP API settings.
type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	AllowedOrigins      string `json:"allowed_origins"`
	ShutdownTimeoutSecs int    `json:"shutdown_timeout_secs"`
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	Enabled           bool          `json:"enabled"`
	JWTSecret         string        `json:"jwt_secret"`
	AdminPasswordHash string        `json:"admin_password_hash"` // bcrypt hash
	TokenTTL          time.Duration `json:"token_ttl"`
}

// NotificationConfig holds notifier settings.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// DiscordConfig holds a Discord webhook target.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // Human-readable console output instead of JSON
}

// Load reads config.json if present and applies environment overrides.
// A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.WSBaseURL = getEnvOrDefault("BINANCE_WS_BASE_URL", cfg.BinanceConfig.WSBaseURL)
	cfg.BinanceConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.BinanceConfig.MockMode)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	if pairs := os.Getenv("TRADING_PAIRS"); pairs != "" {
		cfg.TradingConfig.Pairs = splitAndTrim(pairs)
	}
	cfg.TradingConfig.QuoteAsset = getEnvOrDefault("TRADING_QUOTE_ASSET", cfg.TradingConfig.QuoteAsset)
	cfg.TradingConfig.PositionNotional = getEnvFloatOrDefault("TRADING_POSITION_NOTIONAL", cfg.TradingConfig.PositionNotional)
	cfg.TradingConfig.MaxOpenPositions = getEnvIntOrDefault("TRADING_MAX_OPEN_POSITIONS", cfg.TradingConfig.MaxOpenPositions)
	cfg.TradingConfig.DefaultStopLossPct = getEnvFloatOrDefault("TRADING_STOP_LOSS_PCT", cfg.TradingConfig.DefaultStopLossPct)
	cfg.TradingConfig.DefaultTakeProfitPct = getEnvFloatOrDefault("TRADING_TAKE_PROFIT_PCT", cfg.TradingConfig.DefaultTakeProfitPct)
	cfg.TradingConfig.TrailingStopPct = getEnvFloatOrDefault("TRADING_TRAILING_STOP_PCT", cfg.TradingConfig.TrailingStopPct)
	cfg.TradingConfig.MaxHoldingMinutes = getEnvIntOrDefault("TRADING_MAX_HOLDING_MINUTES", cfg.TradingConfig.MaxHoldingMinutes)
	cfg.TradingConfig.MaxDailyLossPct = getEnvFloatOrDefault("TRADING_MAX_DAILY_LOSS_PCT", cfg.TradingConfig.MaxDailyLossPct)
	cfg.TradingConfig.EmergencyStopPct = getEnvFloatOrDefault("TRADING_EMERGENCY_STOP_PCT", cfg.TradingConfig.EmergencyStopPct)
	cfg.TradingConfig.DecisionIntervalSecs = getEnvIntOrDefault("TRADING_DECISION_INTERVAL_SECS", cfg.TradingConfig.DecisionIntervalSecs)
	cfg.TradingConfig.RiskIntervalSecs = getEnvIntOrDefault("TRADING_RISK_INTERVAL_SECS", cfg.TradingConfig.RiskIntervalSecs)
	cfg.TradingConfig.ReconcileIntervalSecs = getEnvIntOrDefault("TRADING_RECONCILE_INTERVAL_SECS", cfg.TradingConfig.ReconcileIntervalSecs)
	cfg.TradingConfig.InitialCapital = getEnvFloatOrDefault("TRADING_INITIAL_CAPITAL", cfg.TradingConfig.InitialCapital)

	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Console = getEnvBoolOrDefault("LOG_CONSOLE", cfg.LoggingConfig.Console)
}

func applyDefaults(cfg *Config) {
	if cfg.BinanceConfig.BaseURL == "" {
		cfg.BinanceConfig.BaseURL = "https://api.binance.com"
	}
	if cfg.BinanceConfig.WSBaseURL == "" {
		cfg.BinanceConfig.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if cfg.BinanceConfig.RecvWindowMs == 0 {
		cfg.BinanceConfig.RecvWindowMs = 5000
	}
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.TradingConfig.QuoteAsset == "" {
		cfg.TradingConfig.QuoteAsset = "USDT"
	}
	if cfg.TradingConfig.PositionNotional == 0 {
		cfg.TradingConfig.PositionNotional = 1000
	}
	if cfg.TradingConfig.MaxOpenPositions == 0 {
		cfg.TradingConfig.MaxOpenPositions = 10
	}
	if cfg.TradingConfig.DefaultStopLossPct == 0 {
		cfg.TradingConfig.DefaultStopLossPct = 1.5
	}
	if cfg.TradingConfig.DefaultTakeProfitPct == 0 {
		cfg.TradingConfig.DefaultTakeProfitPct = 3.0
	}
	if cfg.TradingConfig.MaxHoldingMinutes == 0 {
		cfg.TradingConfig.MaxHoldingMinutes = 60
	}
	if cfg.TradingConfig.MaxDailyLossPct == 0 {
		cfg.TradingConfig.MaxDailyLossPct = 2.0
	}
	if cfg.TradingConfig.EmergencyStopPct == 0 {
		cfg.TradingConfig.EmergencyStopPct = 1.8
	}
	if cfg.TradingConfig.DecisionIntervalSecs == 0 {
		cfg.TradingConfig.DecisionIntervalSecs = 15
	}
	if cfg.TradingConfig.RiskIntervalSecs == 0 {
		cfg.TradingConfig.RiskIntervalSecs = 1
	}
	if cfg.TradingConfig.ReconcileIntervalSecs == 0 {
		cfg.TradingConfig.ReconcileIntervalSecs = 300
	}
	if cfg.TradingConfig.InitialCapital == 0 {
		cfg.TradingConfig.InitialCapital = 10000
	}
	if cfg.TradingConfig.DustThreshold == 0 {
		cfg.TradingConfig.DustThreshold = 0.0001
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ShutdownTimeoutSecs == 0 {
		cfg.ServerConfig.ShutdownTimeoutSecs = 30
	}
	if cfg.AuthConfig.TokenTTL == 0 {
		cfg.AuthConfig.TokenTTL = 12 * time.Hour
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

// Validate rejects configurations the bot cannot run with.
func (c *Config) Validate() error {
	if len(c.TradingConfig.Pairs) == 0 {
		return fmt.Errorf("config: no trading pairs configured")
	}
	if c.TradingConfig.DefaultStopLossPct <= 0 || c.TradingConfig.DefaultStopLossPct >= 100 {
		return fmt.Errorf("config: stop loss percent %.2f out of range", c.TradingConfig.DefaultStopLossPct)
	}
	if c.TradingConfig.DefaultTakeProfitPct <= 0 {
		return fmt.Errorf("config: take profit percent %.2f out of range", c.TradingConfig.DefaultTakeProfitPct)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("config: auth enabled but no JWT secret set")
	}
	return nil
}

// DecisionInterval returns the strategy scheduler delay.
func (c *TradingConfig) DecisionInterval() time.Duration {
	return time.Duration(c.DecisionIntervalSecs) * time.Second
}

// RiskInterval returns the risk monitor fallback rate.
func (c *TradingConfig) RiskInterval() time.Duration {
	return time.Duration(c.RiskIntervalSecs) * time.Second
}

// ReconcileInterval returns the reconciler period.
func (c *TradingConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSecs) * time.Second
}

// MaxHoldingDuration returns the force-close age for positions.
func (c *TradingConfig) MaxHoldingDuration() time.Duration {
	return time.Duration(c.MaxHoldingMinutes) * time.Minute
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
