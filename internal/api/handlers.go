package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/database"
)

// handleHealth reports overall health of the bot's dependencies.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := s.store.HealthCheck(ctx) == nil
	exchangeOK := true
	if _, err := s.gateway.GetServerTime(ctx); err != nil {
		exchangeOK = false
	}

	activeCount := 0
	if positions, err := s.store.ListActivePositions(ctx); err == nil {
		activeCount = len(positions)
	}

	status := "ok"
	if !dbOK || !exchangeOK {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"database":         dbOK,
		"exchange":         exchangeOK,
		"trading_halted":   s.manager.Halted(),
		"active_positions": activeCount,
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// ============================================================================
// STRATEGY CONFIG
// ============================================================================

func (s *Server) handleListStrategies(c *gin.Context) {
	configs, err := s.store.ListStrategyConfigs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategies": s.registry.Names(),
		"configs":    configs,
	})
}

func (s *Server) handleListActiveStrategies(c *gin.Context) {
	configs, err := s.store.ListActiveStrategyConfigs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

type upsertStrategyRequest struct {
	Symbol       string            `json:"symbol" binding:"required"`
	StrategyName string            `json:"strategy_name" binding:"required"`
	Active       *bool             `json:"active"`
	Params       map[string]string `json:"params"`
}

func (s *Server) handleUpsertStrategy(c *gin.Context) {
	var req upsertStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if _, err := s.registry.Get(req.StrategyName); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg := &database.StrategyConfig{
		Symbol:       req.Symbol,
		StrategyName: req.StrategyName,
		Active:       true,
		Params:       req.Params,
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}

	if err := s.store.UpsertStrategyConfig(c.Request.Context(), cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	symbol := c.Query("pair")
	if symbol == "" {
		badRequest(c, "missing required query parameter: pair")
		return
	}
	if err := s.store.DeleteStrategyConfig(c.Request.Context(), symbol); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================================================
// TRADING
// ============================================================================

func (s *Server) handleActivePositions(c *gin.Context) {
	positions, err := s.store.ListActivePositions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if positions == nil {
		positions = []*database.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handlePositionHistory(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		badRequest(c, "missing required query parameter: symbol")
		return
	}
	positions, err := s.store.ListPositionHistory(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	if positions == nil {
		positions = []*database.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	trades, err := s.store.ListTradeHistory(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	if trades == nil {
		trades = []*database.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handleClosePosition force-closes the active position for a symbol. Once
// the close succeeds, repeating the request finds no active position and
// returns 404.
func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		badRequest(c, "missing required query parameter: symbol")
		return
	}
	if _, err := s.manager.Close(c.Request.Context(), symbol, database.CloseReasonManual); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type stopLossRequest struct {
	Symbol        string `json:"symbol" binding:"required"`
	StopLossPrice string `json:"stop_loss_price" binding:"required"`
}

// handleUpdateStopLoss tightens the stop on the active position. Updates
// that would loosen it are rejected.
func (s *Server) handleUpdateStopLoss(c *gin.Context) {
	var req stopLossRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	stop, err := decimal.NewFromString(req.StopLossPrice)
	if err != nil || stop.Sign() <= 0 {
		badRequest(c, "stop_loss_price must be a positive decimal string")
		return
	}

	p, err := s.manager.UpdateStopLoss(c.Request.Context(), req.Symbol, stop)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type entryPriceRequest struct {
	Symbol     string `json:"symbol" binding:"required"`
	EntryPrice string `json:"entry_price" binding:"required"`
}

// handleSetEntryPrice supplies an entry price for an emergency position so
// risk monitoring can cover it.
func (s *Server) handleSetEntryPrice(c *gin.Context) {
	var req entryPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	price, err := decimal.NewFromString(req.EntryPrice)
	if err != nil || price.Sign() <= 0 {
		badRequest(c, "entry_price must be a positive decimal string")
		return
	}

	p, err := s.manager.SetEntryPrice(c.Request.Context(), req.Symbol, price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ============================================================================
// RISK
// ============================================================================

func (s *Server) handleMetrics(c *gin.Context) {
	summary, err := s.metrics.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleRiskEvents(c *gin.Context) {
	events, err := s.store.ListRiskEvents(c.Request.Context(), 100)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*database.RiskEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
