package config

import (
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.TradingConfig.DecisionIntervalSecs != 15 {
		t.Errorf("expected decision interval 15s, got %d", cfg.TradingConfig.DecisionIntervalSecs)
	}
	if cfg.TradingConfig.RiskIntervalSecs != 1 {
		t.Errorf("expected risk interval 1s, got %d", cfg.TradingConfig.RiskIntervalSecs)
	}
	if cfg.TradingConfig.ReconcileIntervalSecs != 300 {
		t.Errorf("expected reconcile interval 300s, got %d", cfg.TradingConfig.ReconcileIntervalSecs)
	}
	if cfg.TradingConfig.MaxDailyLossPct != 2.0 || cfg.TradingConfig.EmergencyStopPct != 1.8 {
		t.Errorf("unexpected daily loss thresholds: %.1f/%.1f",
			cfg.TradingConfig.MaxDailyLossPct, cfg.TradingConfig.EmergencyStopPct)
	}
	if cfg.BinanceConfig.BaseURL != "https://api.binance.com" {
		t.Errorf("unexpected base URL %s", cfg.BinanceConfig.BaseURL)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.ServerConfig.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADING_PAIRS", "btcusdt, ethusdt")
	t.Setenv("TRADING_POSITION_NOTIONAL", "250.5")
	t.Setenv("TRADING_MAX_OPEN_POSITIONS", "3")
	t.Setenv("MOCK_MODE", "true")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if len(cfg.TradingConfig.Pairs) != 2 || cfg.TradingConfig.Pairs[0] != "BTCUSDT" || cfg.TradingConfig.Pairs[1] != "ETHUSDT" {
		t.Errorf("pairs should be split and upper-cased, got %v", cfg.TradingConfig.Pairs)
	}
	if cfg.TradingConfig.PositionNotional != 250.5 {
		t.Errorf("expected notional 250.5, got %v", cfg.TradingConfig.PositionNotional)
	}
	if cfg.TradingConfig.MaxOpenPositions != 3 {
		t.Errorf("expected 3 positions, got %d", cfg.TradingConfig.MaxOpenPositions)
	}
	if !cfg.BinanceConfig.MockMode {
		t.Error("expected mock mode on")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{}
	applyDefaults(valid)
	valid.TradingConfig.Pairs = []string{"BTCUSDT"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noPairs := &Config{}
	applyDefaults(noPairs)
	if err := noPairs.Validate(); err == nil {
		t.Error("config without pairs should fail validation")
	}

	badStop := &Config{}
	applyDefaults(badStop)
	badStop.TradingConfig.Pairs = []string{"BTCUSDT"}
	badStop.TradingConfig.DefaultStopLossPct = 150
	if err := badStop.Validate(); err == nil {
		t.Error("out-of-range stop loss should fail validation")
	}

	noSecret := &Config{}
	applyDefaults(noSecret)
	noSecret.TradingConfig.Pairs = []string{"BTCUSDT"}
	noSecret.AuthConfig.Enabled = true
	if err := noSecret.Validate(); err == nil {
		t.Error("auth without a secret should fail validation")
	}
}

func TestDurationHelpers(t *testing.T) {
	tc := TradingConfig{
		DecisionIntervalSecs:  15,
		RiskIntervalSecs:      1,
		ReconcileIntervalSecs: 300,
		MaxHoldingMinutes:     60,
	}
	if tc.DecisionInterval() != 15*time.Second {
		t.Errorf("unexpected decision interval %v", tc.DecisionInterval())
	}
	if tc.RiskInterval() != time.Second {
		t.Errorf("unexpected risk interval %v", tc.RiskInterval())
	}
	if tc.ReconcileInterval() != 5*time.Minute {
		t.Errorf("unexpected reconcile interval %v", tc.ReconcileInterval())
	}
	if tc.MaxHoldingDuration() != time.Hour {
		t.Errorf("unexpected holding duration %v", tc.MaxHoldingDuration())
	}
}
