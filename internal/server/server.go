// Package server exposes the HTTP boundary: the signal webhook, trade
// queries, close endpoints, reconciliation controls and strategy CRUD.
// The shared-secret check on inbound signals happens here, not in the
// execution pipeline.
package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"tradebridge/internal/app"
	"tradebridge/internal/ports"
	"tradebridge/internal/vault"
)

// Server wires HTTP routes around the application services.
type Server struct {
	router *gin.Engine

	executor   *app.Executor
	closer     *app.Closer
	reconciler *app.Reconciler
	strategies ports.StrategyRepository
	trades     ports.TradeRepository
	vault      *vault.Vault
	logger     ports.Logger

	webhookSecret string
}

// Config holds configuration for the HTTP server.
type Config struct {
	Executor      *app.Executor
	Closer        *app.Closer
	Reconciler    *app.Reconciler
	Strategies    ports.StrategyRepository
	Trades        ports.TradeRepository
	Vault         *vault.Vault
	Logger        ports.Logger
	WebhookSecret string
}

// New creates the HTTP server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Executor == nil || cfg.Closer == nil || cfg.Reconciler == nil {
		return nil, fmt.Errorf("application services are required for server")
	}
	if cfg.Strategies == nil || cfg.Trades == nil {
		return nil, fmt.Errorf("repositories are required for server")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required for server")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for server")
	}

	s := &Server{
		executor:      cfg.Executor,
		closer:        cfg.Closer,
		reconciler:    cfg.Reconciler,
		strategies:    cfg.Strategies,
		trades:        cfg.Trades,
		vault:         cfg.Vault,
		logger:        cfg.Logger,
		webhookSecret: cfg.WebhookSecret,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	s.router = r
	s.routes()
	return s, nil
}

// Router returns the configured gin engine, for mounting into an
// http.Server and for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.POST("/webhook", s.handleWebhook)

	api := s.router.Group("/api")
	{
		api.GET("/trades", s.listTrades)
		api.GET("/trades/stats", s.tradeStats)
		api.POST("/trades/:id/close", s.closeTrade)
		api.POST("/trades/close-all", s.closeAllTrades)

		api.GET("/sync/status", s.syncStatus)
		api.POST("/sync/force", s.forceSync)

		api.GET("/strategies", s.listStrategies)
		api.POST("/strategies", s.createStrategy)
		api.GET("/strategies/:id", s.getStrategy)
		api.PUT("/strategies/:id", s.updateStrategy)
		api.DELETE("/strategies/:id", s.deleteStrategy)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}
