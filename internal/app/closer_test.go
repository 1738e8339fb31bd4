package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

type closerFixture struct {
	closer     *Closer
	strategies *mockStrategyRepo
	trades     *mockTradeRepo
	exchange   *mockExchange
	provider   *mockProvider
}

func newCloserFixture(t *testing.T) *closerFixture {
	t.Helper()
	v := testVault(t)
	strategies := newMockStrategyRepo()
	trades := newMockTradeRepo()
	exchange := newMockExchange()
	provider := &mockProvider{client: exchange}

	closer, err := NewCloser(CloserConfig{
		Trades:     trades,
		Strategies: strategies,
		Vault:      v,
		Clients:    provider,
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)

	require.NoError(t, strategies.CreateStrategy(context.Background(), testStrategy(t, v)))
	return &closerFixture{
		closer: closer, strategies: strategies, trades: trades,
		exchange: exchange, provider: provider,
	}
}

func TestCloseTradeUnknownTrade(t *testing.T) {
	f := newCloserFixture(t)
	_, err := f.closer.CloseTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCloseTradeRejectsNonOpenTrade(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	tr := openTrade("sim-1", "strat-1", domain.Buy, 100, 1)
	tr.Status = domain.StatusSimulated
	require.NoError(t, f.trades.CreateTrade(ctx, tr))

	_, err := f.closer.CloseTrade(ctx, "sim-1")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestCloseTradeSubmitsReduceOnlyOppositeOrder(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("t-1", "strat-1", domain.Buy, 100, 2)))

	// The venue holds more than the stored quantity; the close must use
	// the venue-reported size for both the order and the realized P&L.
	f.exchange.size = 3
	f.exchange.price = 110
	f.exchange.orderResp = &ports.OrderResponse{OrderID: "close-1", AvgPrice: 110, Status: "FILLED"}

	res, err := f.closer.CloseTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, CloseDone, res.Outcome)
	require.NotNil(t, res.PNL)
	assert.InDelta(t, 30.0, *res.PNL, 1e-9) // (110-100) * 3, venue size
	assert.Equal(t, 110.0, res.ExitPrice)

	assert.Equal(t, 1, f.exchange.cancelCalls)
	assert.Equal(t, 1, f.exchange.placeCalls)
	assert.True(t, f.exchange.lastOrder.ReduceOnly)
	assert.Equal(t, domain.Sell, f.exchange.lastOrder.Side)
	assert.Equal(t, "3.000", f.exchange.lastOrder.Quantity)

	stored := f.trades.get("t-1")
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.Equal(t, domain.CloseReasonManual, stored.CloseReason)
	require.NotNil(t, stored.ExitPrice)
	assert.Equal(t, 110.0, *stored.ExitPrice)
	require.NotNil(t, stored.ClosedAt)
}

func TestCloseTradeSellSideInvertsPNL(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("s-1", "strat-1", domain.Sell, 100, 2)))

	f.exchange.size = -2
	f.exchange.price = 110
	f.exchange.orderResp = &ports.OrderResponse{OrderID: "close-2", AvgPrice: 110, Status: "FILLED"}

	res, err := f.closer.CloseTrade(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, CloseDone, res.Outcome)
	require.NotNil(t, res.PNL)
	assert.InDelta(t, -20.0, *res.PNL, 1e-9)
	assert.Equal(t, domain.Buy, f.exchange.lastOrder.Side)
	assert.Equal(t, "2.000", f.exchange.lastOrder.Quantity)
}

func TestCloseTradeAlreadyClosedOnExchange(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	pnl := 12.5
	tr := openTrade("drift-1", "strat-1", domain.Buy, 100, 1)
	tr.PNL = &pnl
	require.NoError(t, f.trades.CreateTrade(ctx, tr))

	f.exchange.size = 0
	f.exchange.price = 108

	res, err := f.closer.CloseTrade(ctx, "drift-1")
	require.NoError(t, err)
	assert.Equal(t, CloseAlreadyClosed, res.Outcome)
	assert.Equal(t, 108.0, res.ExitPrice)
	assert.Zero(t, f.exchange.placeCalls, "no order may be submitted for an already closed position")

	stored := f.trades.get("drift-1")
	assert.Equal(t, domain.StatusClosed, stored.Status)
	require.NotNil(t, stored.PNL)
	assert.Equal(t, 12.5, *stored.PNL, "previously computed pnl is preserved")
}

func TestCloseTradeAlreadyClosedFallsBackToEntryPrice(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("drift-2", "strat-1", domain.Buy, 100, 1)))

	f.exchange.size = 0
	f.exchange.priceErr = errors.New("ticker down")

	res, err := f.closer.CloseTrade(ctx, "drift-2")
	require.NoError(t, err)
	assert.Equal(t, CloseAlreadyClosed, res.Outcome)
	assert.Equal(t, 100.0, res.ExitPrice)
}

func TestCloseTradeOrphanedStrategyClosesWithoutExchange(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("orphan-1", "gone", domain.Buy, 100, 1)))

	res, err := f.closer.CloseTrade(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, CloseDone, res.Outcome)
	assert.Zero(t, f.exchange.totalCalls())
	assert.Zero(t, f.provider.getCalls)

	stored := f.trades.get("orphan-1")
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.Contains(t, stored.Error, "strategy deleted")
}

func TestCloseTradeFailureLeavesTradeOpen(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("fail-1", "strat-1", domain.Buy, 100, 1)))

	f.exchange.sizeErr = errors.New("position endpoint down")

	res, err := f.closer.CloseTrade(ctx, "fail-1")
	require.NoError(t, err)
	assert.Equal(t, CloseFailed, res.Outcome)
	assert.Contains(t, res.Message, "position size query failed")
	assert.Equal(t, domain.StatusOpen, f.trades.get("fail-1").Status)
}

func TestCloseTradeCancelFailureIsNotFatal(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("c-1", "strat-1", domain.Buy, 100, 1)))

	f.exchange.cancelErr = errors.New("cancel rejected")
	f.exchange.size = 1
	f.exchange.price = 105
	f.exchange.orderResp = &ports.OrderResponse{OrderID: "close-3", AvgPrice: 105, Status: "FILLED"}

	res, err := f.closer.CloseTrade(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, CloseDone, res.Outcome)
}

func TestCloseAllIsolatesFailures(t *testing.T) {
	f := newCloserFixture(t)
	ctx := context.Background()
	v := testVault(t)

	bybitStrategy := testStrategy(t, v)
	bybitStrategy.ID = "strat-2"
	bybitStrategy.Exchange = domain.ExchangeBybit
	require.NoError(t, f.strategies.CreateStrategy(ctx, bybitStrategy))

	healthy := newMockExchange()
	healthy.size = 1
	healthy.price = 105
	healthy.orderResp = &ports.OrderResponse{OrderID: "x", AvgPrice: 105, Status: "FILLED"}
	broken := newMockExchange()
	broken.sizeErr = errors.New("venue down")
	f.provider.clientFor = func(exchange domain.Exchange) ports.ExchangeClient {
		if exchange == domain.ExchangeBybit {
			return broken
		}
		return healthy
	}

	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("a", "strat-1", domain.Buy, 100, 1)))
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("b", "strat-1", domain.Buy, 100, 1)))
	require.NoError(t, f.trades.CreateTrade(ctx, openTrade("c", "strat-2", domain.Buy, 100, 1)))

	report, err := f.closer.CloseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Closed)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, domain.StatusClosed, f.trades.get("a").Status)
	assert.Equal(t, domain.StatusClosed, f.trades.get("b").Status)
	assert.Equal(t, domain.StatusOpen, f.trades.get("c").Status)
}
