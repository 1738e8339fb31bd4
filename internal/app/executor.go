package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/sizing"
	"tradebridge/internal/vault"
)

// ExecutionStatus classifies the outcome of one signal.
type ExecutionStatus string

const (
	ExecutionSkipped   ExecutionStatus = "skipped"
	ExecutionSimulated ExecutionStatus = "simulated"
	ExecutionOpened    ExecutionStatus = "opened"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionResult reports what happened to a signal. Trade is nil only
// for the skipped outcome.
type ExecutionResult struct {
	Status         ExecutionStatus
	Trade          *domain.Trade
	Message        string
	QuantitySource sizing.Source
}

// Executor turns validated signals into trade records, placing real
// orders unless the owning strategy is in dry-run mode.
type Executor struct {
	strategies ports.StrategyRepository
	trades     ports.TradeRepository
	resolver   *sizing.Resolver
	vault      *vault.Vault
	clients    ClientProvider
	logger     ports.Logger
}

// ExecutorConfig holds configuration for the Executor.
type ExecutorConfig struct {
	Strategies ports.StrategyRepository
	Trades     ports.TradeRepository
	Resolver   *sizing.Resolver
	Vault      *vault.Vault
	Clients    ClientProvider
	Logger     ports.Logger
}

// NewExecutor creates a signal executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Strategies == nil || cfg.Trades == nil {
		return nil, fmt.Errorf("repositories are required for executor")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("quantity resolver is required for executor")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required for executor")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client provider is required for executor")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for executor")
	}
	return &Executor{
		strategies: cfg.Strategies,
		trades:     cfg.Trades,
		resolver:   cfg.Resolver,
		vault:      cfg.Vault,
		clients:    cfg.Clients,
		logger:     cfg.Logger,
	}, nil
}

// Execute runs one signal through the pipeline. It returns an error
// only for a malformed signal, an unknown strategy, or a persistence
// failure; exchange-side failures are recorded as an ERROR trade and
// reported through the result so every attempted order is auditable.
func (e *Executor) Execute(ctx context.Context, signal *domain.Signal) (*ExecutionResult, error) {
	op := "Execute"

	if signal.StrategyID == "" {
		return nil, fmt.Errorf("%s: signal carries no strategy reference: %w", op, ports.ErrInvalidRequest)
	}
	side, ok := signal.Side()
	if !ok {
		return nil, fmt.Errorf("%s: unknown action %q: %w", op, signal.Action, ports.ErrInvalidRequest)
	}

	strategy, err := e.strategies.FindStrategyByID(ctx, signal.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("%s: strategy lookup failed: %w", op, err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%s: strategy %s: %w", op, signal.StrategyID, ports.ErrNotFound)
	}

	if !strategy.IsActive {
		e.logger.Info(ctx, "Signal skipped, strategy inactive", map[string]interface{}{
			"op": op, "strategyID": strategy.ID,
		})
		return &ExecutionResult{Status: ExecutionSkipped, Message: "strategy is inactive"}, nil
	}

	rawSymbol := signal.Symbol
	if rawSymbol == "" {
		rawSymbol = strategy.Symbol
	}
	symbol := domain.NormalizeSymbol(strategy.Exchange, rawSymbol)

	if strategy.IsDryRun {
		return e.executeDryRun(ctx, signal, strategy, symbol, side)
	}
	return e.executeReal(ctx, signal, strategy, symbol, side)
}

// executeDryRun records a SIMULATED trade without contacting any
// exchange. Sizing therefore runs without a balance source, so
// percentage-based signals fall through to the strategy default.
func (e *Executor) executeDryRun(ctx context.Context, signal *domain.Signal, strategy *domain.Strategy, symbol string, side domain.OrderSide) (*ExecutionResult, error) {
	op := "ExecuteDryRun"

	res := e.resolver.Resolve(ctx, signal, strategy, nil)

	zero := 0.0
	trade := &domain.Trade{
		ID:         uuid.NewString(),
		StrategyID: strategy.ID,
		Symbol:     symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		EntryPrice: signal.Price,
		Quantity:   res.Quantity,
		PNL:        &zero,
		Status:     domain.StatusSimulated,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.trades.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: failed to persist simulated trade: %w", op, err)
	}

	e.logger.Info(ctx, "Dry-run signal recorded", map[string]interface{}{
		"op": op, "strategyID": strategy.ID, "tradeID": trade.ID,
		"symbol": symbol, "side": side, "quantity": res.Quantity, "source": res.Source,
	})
	return &ExecutionResult{Status: ExecutionSimulated, Trade: trade, QuantitySource: res.Source}, nil
}

func (e *Executor) executeReal(ctx context.Context, signal *domain.Signal, strategy *domain.Strategy, symbol string, side domain.OrderSide) (*ExecutionResult, error) {
	op := "ExecuteReal"

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		StrategyID: strategy.ID,
		Symbol:     symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		EntryPrice: signal.Price,
		CreatedAt:  time.Now().UTC(),
	}

	order, res, execErr := e.placeOrder(ctx, signal, strategy, symbol, side)
	trade.Quantity = res.Quantity
	if execErr != nil {
		trade.Status = domain.StatusError
		trade.Error = execErr.Error()
		if err := e.trades.CreateTrade(ctx, trade); err != nil {
			return nil, fmt.Errorf("%s: failed to persist error trade: %w", op, err)
		}
		e.logger.Error(ctx, execErr, "Order placement failed", map[string]interface{}{
			"op": op, "strategyID": strategy.ID, "tradeID": trade.ID, "symbol": symbol,
		})
		return &ExecutionResult{
			Status: ExecutionFailed, Trade: trade,
			Message: execErr.Error(), QuantitySource: res.Source,
		}, nil
	}

	trade.Status = domain.StatusOpen
	trade.ExchangeOrderID = order.OrderID
	switch {
	case order.AvgPrice > 0:
		trade.EntryPrice = order.AvgPrice
	case order.Price > 0:
		trade.EntryPrice = order.Price
	default:
		trade.EntryPrice = signal.Price
	}
	if err := e.trades.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: order placed but trade persistence failed: %w", op, err)
	}

	e.logger.Info(ctx, "Order placed", map[string]interface{}{
		"op": op, "strategyID": strategy.ID, "tradeID": trade.ID, "symbol": symbol,
		"side": side, "quantity": trade.Quantity, "entryPrice": trade.EntryPrice,
		"orderID": order.OrderID, "source": res.Source,
	})
	return &ExecutionResult{Status: ExecutionOpened, Trade: trade, QuantitySource: res.Source}, nil
}

// placeOrder performs the exchange-facing half of execution: credential
// decryption, sizing, lot normalization and order submission. Every
// failure comes back as an error for the caller to record.
func (e *Executor) placeOrder(ctx context.Context, signal *domain.Signal, strategy *domain.Strategy, symbol string, side domain.OrderSide) (*ports.OrderResponse, sizing.Resolution, error) {
	apiKey, apiSecret, err := decryptCredentials(e.vault, strategy)
	if err != nil {
		return nil, sizing.Resolution{}, fmt.Errorf("credential decryption failed: %w", err)
	}

	client, err := e.clients.Get(ctx, strategy.Exchange, apiKey, apiSecret, strategy.IsTestnet)
	if err != nil {
		return nil, sizing.Resolution{}, err
	}

	res := e.resolver.Resolve(ctx, signal, strategy, client)
	if res.BalanceDegraded {
		e.logger.Warn(ctx, "Sizing degraded by balance fetch failure", map[string]interface{}{
			"strategyID": strategy.ID, "symbol": symbol,
		})
	}

	rules, err := client.GetSymbolRules(ctx, symbol)
	if err != nil {
		return nil, res, fmt.Errorf("symbol rules lookup failed: %w", err)
	}
	quantity, err := sizing.NormalizeQuantity(res.Quantity, rules)
	if err != nil {
		return nil, res, fmt.Errorf("quantity normalization failed: %w", err)
	}
	if parsed, perr := strconv.ParseFloat(quantity, 64); perr == nil {
		res.Quantity = parsed
	}

	order, err := client.PlaceMarketOrder(ctx, ports.MarketOrder{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		return nil, res, err
	}
	return order, res, nil
}
