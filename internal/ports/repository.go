package ports

import (
	"context"

	"tradebridge/internal/domain"
)

// StrategyRepository defines the interface for storing and retrieving strategies.
type StrategyRepository interface {
	// CreateStrategy saves a new strategy.
	CreateStrategy(ctx context.Context, s *domain.Strategy) error
	// FindStrategyByID retrieves a strategy by its ID.
	// Returns nil, nil if not found.
	FindStrategyByID(ctx context.Context, id string) (*domain.Strategy, error)
	// FindAllStrategies retrieves all strategies, newest first.
	FindAllStrategies(ctx context.Context) ([]*domain.Strategy, error)
	// UpdateStrategy modifies an existing strategy.
	UpdateStrategy(ctx context.Context, s *domain.Strategy) error
	// DeleteStrategy removes a strategy. Trades referencing it are kept.
	DeleteStrategy(ctx context.Context, id string) error
}

// TradeRepository defines the interface for storing and retrieving trades.
// Updates are guarded by the trade's version column: a stale version
// yields ErrConflict and leaves the record untouched.
type TradeRepository interface {
	// CreateTrade saves a new trade record.
	CreateTrade(ctx context.Context, t *domain.Trade) error
	// FindTradeByID retrieves a trade by its ID.
	// Returns nil, nil if not found.
	FindTradeByID(ctx context.Context, id string) (*domain.Trade, error)
	// FindTradesByStatus retrieves all trades with the given status, newest first.
	FindTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error)
	// FindRecentTrades retrieves the most recent trades, up to a limit.
	FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error)
	// UpdateTradePNL persists a recomputed unrealized P&L for an open trade.
	UpdateTradePNL(ctx context.Context, id string, pnl float64, version int64) error
	// CloseTrade marks a trade terminal with its closing details.
	CloseTrade(ctx context.Context, t *domain.Trade) error
}
