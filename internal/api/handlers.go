package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/logging"
)

// modeFromQuery reads the trading mode, defaulting to paper
func modeFromQuery(c *gin.Context) string {
	mode := c.DefaultQuery("mode", database.ModePaper)
	if mode != database.ModePaper && mode != database.ModeLive {
		return ""
	}
	return mode
}

// handleHealth reports process and database health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handlePortfolio returns the account's aggregate portfolio row
func (s *Server) handlePortfolio(c *gin.Context) {
	account := c.Param("account")
	mode := modeFromQuery(c)
	if mode == "" {
		errorResponse(c, http.StatusBadRequest, "invalid trading mode")
		return
	}

	state, err := s.repo.GetPortfolioState(c.Request.Context(), account, mode)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Portfolio lookup failed", "account_id", account, "error", err)
		errorResponse(c, http.StatusInternalServerError, "portfolio lookup failed")
		return
	}
	if state == nil {
		errorResponse(c, http.StatusNotFound, "no portfolio state for account")
		return
	}
	successResponse(c, state)
}

// handlePositions returns the account's open positions
func (s *Server) handlePositions(c *gin.Context) {
	account := c.Param("account")
	mode := modeFromQuery(c)
	if mode == "" {
		errorResponse(c, http.StatusBadRequest, "invalid trading mode")
		return
	}

	positions, err := s.repo.GetOpenPositions(c.Request.Context(), account, mode)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Positions lookup failed", "account_id", account, "error", err)
		errorResponse(c, http.StatusInternalServerError, "positions lookup failed")
		return
	}
	successResponse(c, gin.H{
		"account_id": account,
		"mode":       mode,
		"count":      len(positions),
		"positions":  positions,
	})
}

// handleTrades returns the account's recent audit rows
func (s *Server) handleTrades(c *gin.Context) {
	account := c.Param("account")
	mode := modeFromQuery(c)
	if mode == "" {
		errorResponse(c, http.StatusBadRequest, "invalid trading mode")
		return
	}

	limit := 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	trades, err := s.repo.GetRecentTradeRecords(c.Request.Context(), account, mode, limit)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Trades lookup failed", "account_id", account, "error", err)
		errorResponse(c, http.StatusInternalServerError, "trades lookup failed")
		return
	}
	successResponse(c, trades)
}

// handleReconciliation runs a report-only reconciliation for the account
func (s *Server) handleReconciliation(c *gin.Context) {
	account := c.Param("account")
	mode := modeFromQuery(c)
	if mode == "" {
		errorResponse(c, http.StatusBadRequest, "invalid trading mode")
		return
	}

	rec, err := s.reconcilers(account, mode)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "no broker client for account")
		return
	}

	report, err := rec.Run(c.Request.Context())
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Reconciliation check failed", "account_id", account, "error", err)
		errorResponse(c, http.StatusBadGateway, "reconciliation check failed")
		return
	}
	successResponse(c, report)
}

// handleActivity returns recent engine events
func (s *Server) handleActivity(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	successResponse(c, s.bus.Recent(limit))
}
