package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradebridge/internal/app"
	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

// handleWebhook receives a trade signal, checks the shared secret and
// hands it to the execution pipeline. Every pipeline outcome comes back
// as 200 with a structured result; only malformed requests and unknown
// strategies map to 4xx.
func (s *Server) handleWebhook(c *gin.Context) {
	var signal domain.Signal
	if err := c.ShouldBindJSON(&signal); err != nil {
		respondError(c, http.StatusBadRequest, "invalid signal payload: "+err.Error())
		return
	}

	if s.webhookSecret != "" {
		if subtle.ConstantTimeCompare([]byte(signal.Secret), []byte(s.webhookSecret)) != 1 {
			respondError(c, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	result, err := s.executor.Execute(c.Request.Context(), &signal)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrInvalidRequest):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ports.ErrNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			s.logger.Error(c.Request.Context(), err, "Webhook execution failed", nil)
			respondError(c, http.StatusInternalServerError, "signal execution failed")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": result.Status != app.ExecutionFailed,
		"status":  result.Status,
		"message": result.Message,
		"trade":   tradeResponse(result.Trade),
	})
}

func (s *Server) listTrades(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	var (
		trades []*domain.Trade
		err    error
	)
	if status := c.Query("status"); status != "" {
		trades, err = s.trades.FindTradesByStatus(c.Request.Context(), domain.TradeStatus(status))
	} else {
		trades, err = s.trades.FindRecentTrades(c.Request.Context(), limit)
	}
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to list trades", nil)
		respondError(c, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": out})
}

func (s *Server) tradeStats(c *gin.Context) {
	trades, err := s.trades.FindRecentTrades(c.Request.Context(), 1000)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to load trades for stats", nil)
		respondError(c, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": app.BuildStats(trades)})
}

func (s *Server) closeTrade(c *gin.Context) {
	result, err := s.closer.CloseTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, ports.ErrInvalidRequest):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error(c.Request.Context(), err, "Close request failed", nil)
			respondError(c, http.StatusInternalServerError, "close failed")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": result.Outcome != app.CloseFailed,
		"result":  result,
	})
}

func (s *Server) closeAllTrades(c *gin.Context) {
	report, err := s.closer.CloseAll(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Batch close failed", nil)
		respondError(c, http.StatusInternalServerError, "batch close failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": report.Failed == 0, "report": report})
}

func (s *Server) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "sync": s.reconciler.Status()})
}

func (s *Server) forceSync(c *gin.Context) {
	report := s.reconciler.ForceSync(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func tradeResponse(t *domain.Trade) gin.H {
	if t == nil {
		return nil
	}
	return gin.H{
		"id":              t.ID,
		"strategyId":      t.StrategyID,
		"symbol":          t.Symbol,
		"side":            t.Side,
		"type":            t.Type,
		"entryPrice":      t.EntryPrice,
		"quantity":        t.Quantity,
		"pnl":             t.PNL,
		"status":          t.Status,
		"exchangeOrderId": t.ExchangeOrderID,
		"error":           t.Error,
		"exitPrice":       t.ExitPrice,
		"closeReason":     t.CloseReason,
		"createdAt":       t.CreatedAt,
		"closedAt":        t.ClosedAt,
	}
}
