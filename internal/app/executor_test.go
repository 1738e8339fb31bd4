package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/sizing"
)

type executorFixture struct {
	executor   *Executor
	strategies *mockStrategyRepo
	trades     *mockTradeRepo
	exchange   *mockExchange
	provider   *mockProvider
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	v := testVault(t)
	strategies := newMockStrategyRepo()
	trades := newMockTradeRepo()
	exchange := newMockExchange()
	provider := &mockProvider{client: exchange}

	resolver, err := sizing.NewResolver(&mockLogger{})
	require.NoError(t, err)

	executor, err := NewExecutor(ExecutorConfig{
		Strategies: strategies,
		Trades:     trades,
		Resolver:   resolver,
		Vault:      v,
		Clients:    provider,
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)

	require.NoError(t, strategies.CreateStrategy(context.Background(), testStrategy(t, v)))
	return &executorFixture{
		executor: executor, strategies: strategies, trades: trades,
		exchange: exchange, provider: provider,
	}
}

func TestExecuteRejectsSignalWithoutStrategy(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.executor.Execute(context.Background(), &domain.Signal{Action: "buy", Symbol: "BTC/USDT"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Zero(t, f.trades.count())
}

func TestExecuteRejectsUnknownAction(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.executor.Execute(context.Background(), &domain.Signal{StrategyID: "strat-1", Action: "hold"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestExecuteUnknownStrategy(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.executor.Execute(context.Background(), &domain.Signal{StrategyID: "missing", Action: "buy"})
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Zero(t, f.trades.count())
}

func TestExecuteInactiveStrategySkipsWithoutTrade(t *testing.T) {
	f := newExecutorFixture(t)
	f.strategies.strategies["strat-1"].IsActive = false

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Symbol: "BTC/USDT", Price: 50000,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSkipped, res.Status)
	assert.Nil(t, res.Trade)
	assert.Zero(t, f.trades.count())
	assert.Zero(t, f.exchange.totalCalls())
}

func TestExecuteDryRunNeverTouchesExchange(t *testing.T) {
	f := newExecutorFixture(t)
	f.strategies.strategies["strat-1"].IsDryRun = true

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Symbol: "BTC/USDT",
		Price: 50000, AccountPercentage: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSimulated, res.Status)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.StatusSimulated, res.Trade.Status)
	assert.Equal(t, "BTCUSDT", res.Trade.Symbol)
	require.NotNil(t, res.Trade.PNL)
	assert.Equal(t, 0.0, *res.Trade.PNL)
	// No balance source on the dry-run path, so percentage sizing falls
	// through to the strategy default.
	assert.Equal(t, sizing.SourceStrategy, res.QuantitySource)
	assert.Equal(t, 0.01, res.Trade.Quantity)

	assert.Zero(t, f.exchange.totalCalls())
	assert.Zero(t, f.provider.getCalls)
	assert.Equal(t, 1, f.trades.count())
}

func TestExecutePlacesOrderAndRecordsOpenTrade(t *testing.T) {
	f := newExecutorFixture(t)
	f.exchange.orderResp = &ports.OrderResponse{OrderID: "42", AvgPrice: 50123.5, Status: "FILLED"}

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Symbol: "BTC/USDT", Price: 50000, Quantity: 0.0154,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionOpened, res.Status)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.StatusOpen, res.Trade.Status)
	assert.Equal(t, "42", res.Trade.ExchangeOrderID)
	assert.Equal(t, 50123.5, res.Trade.EntryPrice)
	assert.Equal(t, domain.Buy, res.Trade.Side)

	// Quantity floored to the venue step before submission.
	assert.Equal(t, "0.015", f.exchange.lastOrder.Quantity)
	assert.False(t, f.exchange.lastOrder.ReduceOnly)
	assert.Equal(t, 0.015, res.Trade.Quantity)
	assert.Equal(t, 1, f.trades.count())
}

func TestExecuteFallsBackToSignalPriceWhenVenueReportsNone(t *testing.T) {
	f := newExecutorFixture(t)
	f.exchange.orderResp = &ports.OrderResponse{OrderID: "7", Status: "NEW"}

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "sell", Symbol: "BTC/USDT", Price: 49000, Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionOpened, res.Status)
	assert.Equal(t, 49000.0, res.Trade.EntryPrice)
	assert.Equal(t, domain.Sell, res.Trade.Side)
}

func TestExecuteVenueRejectionPersistsErrorTrade(t *testing.T) {
	f := newExecutorFixture(t)
	f.exchange.placeErr = ports.ErrInsufficientFunds

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Symbol: "BTC/USDT", Price: 50000, Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, res.Status)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.StatusError, res.Trade.Status)
	assert.Contains(t, res.Trade.Error, "insufficient funds")
	assert.Equal(t, 1, f.trades.count())

	stored := f.trades.get(res.Trade.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusError, stored.Status)
}

func TestExecuteClientFailurePersistsErrorTrade(t *testing.T) {
	f := newExecutorFixture(t)
	f.provider.getErr = errors.New("venue config rejected")

	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Symbol: "BTC/USDT", Price: 50000, Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, res.Status)
	assert.Equal(t, domain.StatusError, res.Trade.Status)
	assert.Equal(t, 1, f.trades.count())
}

func TestExecuteUsesStrategySymbolWhenSignalOmitsIt(t *testing.T) {
	f := newExecutorFixture(t)
	res, err := f.executor.Execute(context.Background(), &domain.Signal{
		StrategyID: "strat-1", Action: "buy", Price: 50000, Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", res.Trade.Symbol)
}
