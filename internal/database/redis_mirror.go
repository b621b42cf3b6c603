package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"scalp-trading-bot/internal/logging"
)

const (
	positionKeyPrefix = "scalper:position:"
	positionMirrorTTL = 24 * time.Hour
)

// RedisMirror keeps a best-effort copy of active positions in Redis so
// dashboards and sibling processes can read bot state without hitting
// PostgreSQL. PostgreSQL stays the source of truth; mirror failures are
// logged and swallowed.
type RedisMirror struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(addr, password string, db int) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger := logging.Component("redis")
	logger.Info().Str("addr", addr).Msg("connected to Redis")
	return &RedisMirror{client: client, logger: logger}, nil
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// StorePosition mirrors an active position.
func (m *RedisMirror) StorePosition(ctx context.Context, p *Position) {
	if m == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to marshal position for mirror")
		return
	}
	if err := m.client.Set(ctx, positionKeyPrefix+p.Symbol, data, positionMirrorTTL).Err(); err != nil {
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to mirror position")
	}
}

// RemovePosition drops the mirror entry after a close.
func (m *RedisMirror) RemovePosition(ctx context.Context, symbol string) {
	if m == nil {
		return
	}
	if err := m.client.Del(ctx, positionKeyPrefix+symbol).Err(); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to remove mirrored position")
	}
}

// HealthCheck pings Redis.
func (m *RedisMirror) HealthCheck(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("redis mirror not configured")
	}
	return m.client.Ping(ctx).Err()
}
