package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/logging"
	"scalp-trading-bot/internal/metrics"
	"scalp-trading-bot/internal/position"
	"scalp-trading-bot/internal/strategy"
)

// RateLimiter provides simple in-memory rate limiting per client.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks whether a request from key is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Store is the persistence surface the API reads and writes.
type Store interface {
	HealthCheck(ctx context.Context) error
	UpsertStrategyConfig(ctx context.Context, cfg *database.StrategyConfig) error
	GetStrategyConfig(ctx context.Context, symbol string) (*database.StrategyConfig, error)
	ListStrategyConfigs(ctx context.Context) ([]*database.StrategyConfig, error)
	ListActiveStrategyConfigs(ctx context.Context) ([]*database.StrategyConfig, error)
	DeleteStrategyConfig(ctx context.Context, symbol string) error
	ListActivePositions(ctx context.Context) ([]*database.Position, error)
	ListPositionHistory(ctx context.Context, symbol string) ([]*database.Position, error)
	ListTradeHistory(ctx context.Context, symbol string) ([]*database.Trade, error)
	ListRiskEvents(ctx context.Context, limit int) ([]*database.RiskEvent, error)
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	AllowOrigins   []string
}

// Server is the admin HTTP API.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	store       Store
	manager     *position.Manager
	metrics     *metrics.Service
	registry    *strategy.Registry
	gateway     exchange.Gateway
	auth        *AuthService
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewServer wires the admin API. auth may be nil to disable authentication.
func NewServer(cfg ServerConfig, store Store, manager *position.Manager, metricsSvc *metrics.Service, registry *strategy.Registry, gateway exchange.Gateway, auth *AuthService) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		store:       store,
		manager:     manager,
		metrics:     metricsSvc,
		registry:    registry,
		gateway:     gateway,
		auth:        auth,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logging.Component("api"),
		startedAt:   time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.registerRoutes()
	return s
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(s.rateLimitMiddleware())

	if s.auth != nil {
		s.router.POST("/api/auth/login", s.handleLogin)
	}

	api := s.router.Group("/api")
	if s.auth != nil {
		api.Use(s.auth.Middleware())
	}

	api.GET("/health/status", s.handleHealth)

	cfgGroup := api.Group("/config")
	{
		cfgGroup.GET("/strategies", s.handleListStrategies)
		cfgGroup.GET("/strategies/active", s.handleListActiveStrategies)
		cfgGroup.POST("/strategies", s.handleUpsertStrategy)
		cfgGroup.DELETE("/strategies", s.handleDeleteStrategy)
	}

	trading := api.Group("/trading")
	{
		trading.GET("/positions/active", s.handleActivePositions)
		trading.GET("/positions/history", s.handlePositionHistory)
		trading.GET("/trades/history", s.handleTradeHistory)
		trading.DELETE("/positions/active", s.handleClosePosition)
		trading.PUT("/positions/stop-loss", s.handleUpdateStopLoss)
		trading.PUT("/positions/entry-price", s.handleSetEntryPrice)
	}

	riskGroup := api.Group("/risk")
	{
		riskGroup.GET("/metrics", s.handleMetrics)
		riskGroup.GET("/events", s.handleRiskEvents)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apiError{
				Code:          "RATE_LIMITED",
				Message:       "too many requests",
				Retryable:     true,
				RetryAfterSec: 60,
			})
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("admin API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("admin API server failed")
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
