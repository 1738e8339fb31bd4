package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/sizing"
	"tradebridge/internal/vault"
)

// CloseOutcome classifies one close attempt. AlreadyClosed means the
// venue reported no open position, so the record was marked terminal
// without submitting an order.
type CloseOutcome string

const (
	CloseDone          CloseOutcome = "closed"
	CloseAlreadyClosed CloseOutcome = "already_closed"
	CloseFailed        CloseOutcome = "failed"
)

// CloseResult reports one close attempt.
type CloseResult struct {
	TradeID   string
	Outcome   CloseOutcome
	PNL       *float64
	ExitPrice float64
	Message   string
}

// CloseAllReport aggregates a batch close.
type CloseAllReport struct {
	Total         int
	Closed        int
	AlreadyClosed int
	Failed        int
	Results       []CloseResult
}

// Closer terminates open trades. The venue's reported position size is
// authoritative over the locally stored quantity: external fills or
// manual intervention may have changed it since entry.
type Closer struct {
	trades     ports.TradeRepository
	strategies ports.StrategyRepository
	vault      *vault.Vault
	clients    ClientProvider
	logger     ports.Logger
}

// CloserConfig holds configuration for the Closer.
type CloserConfig struct {
	Trades     ports.TradeRepository
	Strategies ports.StrategyRepository
	Vault      *vault.Vault
	Clients    ClientProvider
	Logger     ports.Logger
}

// NewCloser creates a close workflow service.
func NewCloser(cfg CloserConfig) (*Closer, error) {
	if cfg.Trades == nil || cfg.Strategies == nil {
		return nil, fmt.Errorf("repositories are required for closer")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required for closer")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client provider is required for closer")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for closer")
	}
	return &Closer{
		trades:     cfg.Trades,
		strategies: cfg.Strategies,
		vault:      cfg.Vault,
		clients:    cfg.Clients,
		logger:     cfg.Logger,
	}, nil
}

// CloseTrade closes one open trade. It returns an error only for an
// unknown or non-open trade; exchange failures come back as a failed
// result with the trade left OPEN for a later retry.
func (c *Closer) CloseTrade(ctx context.Context, tradeID string) (*CloseResult, error) {
	op := "CloseTrade"

	trade, err := c.trades.FindTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("%s: trade lookup failed: %w", op, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("%s: trade %s: %w", op, tradeID, ports.ErrNotFound)
	}
	if !trade.IsOpen() {
		return nil, fmt.Errorf("%s: trade %s has status %s: %w", op, tradeID, trade.Status, ports.ErrInvalidRequest)
	}

	strategy, err := c.strategies.FindStrategyByID(ctx, trade.StrategyID)
	if err != nil {
		return &CloseResult{TradeID: tradeID, Outcome: CloseFailed,
			Message: fmt.Sprintf("strategy lookup failed: %v", err)}, nil
	}
	if strategy == nil {
		return c.closeOrphan(ctx, trade)
	}

	result := c.closeOnExchange(ctx, trade, strategy)
	if result.Outcome == CloseFailed {
		c.logger.Warn(ctx, "Close attempt failed, trade left open", map[string]interface{}{
			"op": op, "tradeID": tradeID, "error": result.Message,
		})
	}
	return result, nil
}

// CloseAll closes every open trade, each attempt independent of its
// siblings.
func (c *Closer) CloseAll(ctx context.Context) (*CloseAllReport, error) {
	open, err := c.trades.FindTradesByStatus(ctx, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("CloseAll: failed to list open trades: %w", err)
	}

	report := &CloseAllReport{Total: len(open), Results: make([]CloseResult, len(open))}
	var wg sync.WaitGroup
	for i, trade := range open {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := c.CloseTrade(ctx, id)
			if err != nil {
				report.Results[i] = CloseResult{TradeID: id, Outcome: CloseFailed, Message: err.Error()}
				return
			}
			report.Results[i] = *res
		}(i, trade.ID)
	}
	wg.Wait()

	for _, res := range report.Results {
		switch res.Outcome {
		case CloseDone:
			report.Closed++
		case CloseAlreadyClosed:
			report.AlreadyClosed++
		case CloseFailed:
			report.Failed++
		}
	}
	return report, nil
}

// closeOrphan terminates a trade whose strategy was deleted. No venue
// call is possible without credentials, so the record is closed at its
// entry price with an annotation rather than left open indefinitely.
func (c *Closer) closeOrphan(ctx context.Context, trade *domain.Trade) (*CloseResult, error) {
	now := time.Now().UTC()
	exit := trade.EntryPrice
	trade.Status = domain.StatusClosed
	trade.ExitPrice = &exit
	trade.CloseReason = domain.CloseReasonManual
	trade.Error = "strategy deleted, closed without exchange confirmation"
	trade.ClosedAt = &now

	if err := c.trades.CloseTrade(ctx, trade); err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("orphan close failed: %v", err)}, nil
	}
	c.logger.Warn(ctx, "Closed orphaned trade", map[string]interface{}{
		"tradeID": trade.ID, "strategyID": trade.StrategyID,
	})
	return &CloseResult{TradeID: trade.ID, Outcome: CloseDone, PNL: trade.PNL,
		ExitPrice: exit, Message: trade.Error}, nil
}

func (c *Closer) closeOnExchange(ctx context.Context, trade *domain.Trade, strategy *domain.Strategy) *CloseResult {
	apiKey, apiSecret, err := decryptCredentials(c.vault, strategy)
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("credential decryption failed: %v", err)}
	}
	client, err := c.clients.Get(ctx, strategy.Exchange, apiKey, apiSecret, strategy.IsTestnet)
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("exchange client unavailable: %v", err)}
	}

	// Best effort. A cancellation failure is logged, not fatal; a stale
	// resting order can still fill concurrently with the close.
	if err := client.CancelAllOrders(ctx, trade.Symbol); err != nil {
		c.logger.Warn(ctx, "Failed to cancel resting orders before close", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "error": err.Error(),
		})
	}

	size, err := client.GetOpenPositionSize(ctx, trade.Symbol)
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("position size query failed: %v", err)}
	}

	price, err := client.GetCurrentPrice(ctx, trade.Symbol)
	if err != nil {
		c.logger.Warn(ctx, "Price fetch failed during close, using entry price", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "error": err.Error(),
		})
		price = 0
	}

	if size == 0 {
		return c.markAlreadyClosed(ctx, trade, price)
	}

	absSize := math.Abs(size)
	rules, err := client.GetSymbolRules(ctx, trade.Symbol)
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("symbol rules lookup failed: %v", err)}
	}
	quantity, err := sizing.NormalizeQuantity(absSize, rules)
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("quantity normalization failed: %v", err)}
	}

	order, err := client.PlaceMarketOrder(ctx, ports.MarketOrder{
		Symbol:     trade.Symbol,
		Side:       trade.Side.Opposite(),
		Quantity:   quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("close order failed: %v", err)}
	}

	exit := trade.EntryPrice
	switch {
	case order.AvgPrice > 0:
		exit = order.AvgPrice
	case price > 0:
		exit = price
	}
	// Realized P&L uses the venue-reported size, not the stored quantity.
	pnl := UnrealizedPNL(trade.Side, trade.EntryPrice, exit, absSize)
	now := time.Now().UTC()

	trade.Status = domain.StatusClosed
	trade.PNL = &pnl
	trade.ExitPrice = &exit
	trade.CloseReason = domain.CloseReasonManual
	trade.ClosedAt = &now

	if err := c.trades.CloseTrade(ctx, trade); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
				Message: "trade changed concurrently, order submitted but record not updated"}
		}
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("close persisted on exchange but record update failed: %v", err)}
	}

	c.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "size": absSize,
		"exitPrice": exit, "pnl": pnl, "orderID": order.OrderID,
	})
	return &CloseResult{TradeID: trade.ID, Outcome: CloseDone, PNL: &pnl, ExitPrice: exit}
}

// markAlreadyClosed handles drift: the venue reports no open position,
// so the close becomes a local bookkeeping update. Previously computed
// P&L is preserved.
func (c *Closer) markAlreadyClosed(ctx context.Context, trade *domain.Trade, price float64) *CloseResult {
	exit := price
	if exit <= 0 {
		exit = trade.EntryPrice
	}
	now := time.Now().UTC()

	trade.Status = domain.StatusClosed
	trade.ExitPrice = &exit
	trade.CloseReason = domain.CloseReasonManual
	trade.ClosedAt = &now

	if err := c.trades.CloseTrade(ctx, trade); err != nil {
		return &CloseResult{TradeID: trade.ID, Outcome: CloseFailed,
			Message: fmt.Sprintf("already-closed bookkeeping failed: %v", err)}
	}
	c.logger.Info(ctx, "Trade already closed on exchange", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "exitPrice": exit,
	})
	return &CloseResult{TradeID: trade.ID, Outcome: CloseAlreadyClosed, PNL: trade.PNL,
		ExitPrice: exit, Message: "position already closed on exchange"}
}
