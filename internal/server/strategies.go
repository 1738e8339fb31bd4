package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradebridge/internal/domain"
)

type strategyRequest struct {
	Name            string  `json:"name" binding:"required,min=1,max=120"`
	Symbol          string  `json:"symbol" binding:"required,min=1"`
	Exchange        string  `json:"exchange" binding:"required,oneof=BINANCE BYBIT"`
	IsActive        *bool   `json:"isActive"`
	IsDryRun        bool    `json:"isDryRun"`
	IsTestnet       bool    `json:"isTestnet"`
	DefaultQuantity float64 `json:"defaultQuantity"`
	APIKey          string  `json:"apiKey"`
	APISecret       string  `json:"apiSecret"`
}

// strategyResponse masks credentials: only presence is reported, never
// key material.
func strategyResponse(s *domain.Strategy) gin.H {
	return gin.H{
		"id":              s.ID,
		"name":            s.Name,
		"symbol":          s.Symbol,
		"exchange":        s.Exchange,
		"isActive":        s.IsActive,
		"isDryRun":        s.IsDryRun,
		"isTestnet":       s.IsTestnet,
		"defaultQuantity": s.DefaultQuantity,
		"hasCredentials":  s.APIKey != "" && s.APISecret != "",
		"createdAt":       s.CreatedAt,
		"updatedAt":       s.UpdatedAt,
	}
}

func (s *Server) createStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid strategy payload: "+err.Error())
		return
	}

	apiKey, err := s.vault.Encrypt(req.APIKey)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}
	apiSecret, err := s.vault.Encrypt(req.APISecret)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now().UTC()
	strategy := &domain.Strategy{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Symbol:          req.Symbol,
		Exchange:        domain.Exchange(req.Exchange),
		IsActive:        active,
		IsDryRun:        req.IsDryRun,
		IsTestnet:       req.IsTestnet,
		DefaultQuantity: req.DefaultQuantity,
		APIKey:          apiKey,
		APISecret:       apiSecret,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.strategies.CreateStrategy(c.Request.Context(), strategy); err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to create strategy", nil)
		respondError(c, http.StatusInternalServerError, "failed to create strategy")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "strategy": strategyResponse(strategy)})
}

func (s *Server) listStrategies(c *gin.Context) {
	strategies, err := s.strategies.FindAllStrategies(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to list strategies", nil)
		respondError(c, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	out := make([]gin.H, 0, len(strategies))
	for _, st := range strategies {
		out = append(out, strategyResponse(st))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategies": out})
}

func (s *Server) getStrategy(c *gin.Context) {
	strategy, err := s.strategies.FindStrategyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load strategy")
		return
	}
	if strategy == nil {
		respondError(c, http.StatusNotFound, "strategy not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": strategyResponse(strategy)})
}

func (s *Server) updateStrategy(c *gin.Context) {
	strategy, err := s.strategies.FindStrategyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load strategy")
		return
	}
	if strategy == nil {
		respondError(c, http.StatusNotFound, "strategy not found")
		return
	}

	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid strategy payload: "+err.Error())
		return
	}

	strategy.Name = req.Name
	strategy.Symbol = req.Symbol
	strategy.Exchange = domain.Exchange(req.Exchange)
	if req.IsActive != nil {
		strategy.IsActive = *req.IsActive
	}
	strategy.IsDryRun = req.IsDryRun
	strategy.IsTestnet = req.IsTestnet
	strategy.DefaultQuantity = req.DefaultQuantity
	// Credentials are replaced only when resent; an empty field keeps
	// the stored value.
	if req.APIKey != "" {
		if strategy.APIKey, err = s.vault.Encrypt(req.APIKey); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to encrypt credentials")
			return
		}
	}
	if req.APISecret != "" {
		if strategy.APISecret, err = s.vault.Encrypt(req.APISecret); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to encrypt credentials")
			return
		}
	}
	strategy.UpdatedAt = time.Now().UTC()

	if err := s.strategies.UpdateStrategy(c.Request.Context(), strategy); err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to update strategy", nil)
		respondError(c, http.StatusInternalServerError, "failed to update strategy")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": strategyResponse(strategy)})
}

func (s *Server) deleteStrategy(c *gin.Context) {
	strategy, err := s.strategies.FindStrategyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load strategy")
		return
	}
	if strategy == nil {
		respondError(c, http.StatusNotFound, "strategy not found")
		return
	}
	if err := s.strategies.DeleteStrategy(c.Request.Context(), strategy.ID); err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to delete strategy", nil)
		respondError(c, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
