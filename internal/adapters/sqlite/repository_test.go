package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tradebridge-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func sampleStrategy() *domain.Strategy {
	return &domain.Strategy{
		Name:            "btc-testnet",
		Symbol:          "BTC/USDT",
		Exchange:        domain.ExchangeBinance,
		IsActive:        true,
		IsTestnet:       true,
		DefaultQuantity: 0.002,
		APIKey:          "abcdef:0011",
		APISecret:       "abcdef:2233",
	}
}

func openTrade(strategyID string) *domain.Trade {
	return &domain.Trade{
		StrategyID: strategyID,
		Symbol:     "BTCUSDT",
		Side:       domain.Buy,
		Type:       domain.OrderTypeMarket,
		EntryPrice: 50000,
		Quantity:   0.5,
		Status:     domain.StatusOpen,
	}
}

func TestRepository_StrategyLifecycle(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	s := sampleStrategy()
	require.NoError(t, repo.CreateStrategy(ctx, s))
	assert.NotEmpty(t, s.ID)

	found, err := repo.FindStrategyByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "btc-testnet", found.Name)
	assert.Equal(t, domain.ExchangeBinance, found.Exchange)
	assert.True(t, found.IsActive)
	assert.True(t, found.IsTestnet)
	assert.False(t, found.IsDryRun)

	found.IsActive = false
	found.DefaultQuantity = 0.01
	require.NoError(t, repo.UpdateStrategy(ctx, found))

	updated, err := repo.FindStrategyByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 0.01, updated.DefaultQuantity)

	all, err := repo.FindAllStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.DeleteStrategy(ctx, s.ID))
	gone, err := repo.FindStrategyByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRepository_UpdateMissingStrategy(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	s := sampleStrategy()
	s.ID = "does-not-exist"
	err := repo.UpdateStrategy(context.Background(), s)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_TradeLifecycle(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tr := openTrade("strat-1")
	require.NoError(t, repo.CreateTrade(ctx, tr))
	assert.NotEmpty(t, tr.ID)

	found, err := repo.FindTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.StatusOpen, found.Status)
	assert.Nil(t, found.PNL, "pnl must be null until computed")
	assert.Nil(t, found.ExitPrice)
	assert.Nil(t, found.ClosedAt)
	assert.Equal(t, int64(0), found.Version)

	// Reconciliation update.
	require.NoError(t, repo.UpdateTradePNL(ctx, tr.ID, 123.45, found.Version))
	afterPNL, err := repo.FindTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, afterPNL.PNL)
	assert.Equal(t, 123.45, *afterPNL.PNL)
	assert.Equal(t, int64(1), afterPNL.Version)

	// Close.
	exitPrice := 51000.0
	pnl := 500.0
	now := afterPNL.CreatedAt
	afterPNL.Status = domain.StatusClosed
	afterPNL.ExitPrice = &exitPrice
	afterPNL.PNL = &pnl
	afterPNL.CloseReason = domain.CloseReasonManual
	afterPNL.ClosedAt = &now
	require.NoError(t, repo.CloseTrade(ctx, afterPNL))

	closed, err := repo.FindTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 500.0, *closed.PNL)
	assert.Equal(t, 51000.0, *closed.ExitPrice)
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)
	assert.NotNil(t, closed.ClosedAt)
}

func TestRepository_VersionGuard(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tr := openTrade("strat-1")
	require.NoError(t, repo.CreateTrade(ctx, tr))

	// First writer wins.
	require.NoError(t, repo.UpdateTradePNL(ctx, tr.ID, 10, 0))

	// Second writer carries the stale version and must observe the conflict.
	err := repo.UpdateTradePNL(ctx, tr.ID, 20, 0)
	assert.ErrorIs(t, err, ports.ErrConflict)

	// A stale close is rejected the same way.
	stale, err := repo.FindTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	stale.Version = 0
	stale.Status = domain.StatusClosed
	err = repo.CloseTrade(ctx, stale)
	assert.ErrorIs(t, err, ports.ErrConflict)
}

func TestRepository_UpdatePNLMissingTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	err := repo.UpdateTradePNL(context.Background(), "missing", 1.0, 0)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_FindTradesByStatus(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	open := openTrade("strat-1")
	require.NoError(t, repo.CreateTrade(ctx, open))

	simulated := openTrade("strat-2")
	simulated.Status = domain.StatusSimulated
	require.NoError(t, repo.CreateTrade(ctx, simulated))

	openTrades, err := repo.FindTradesByStatus(ctx, domain.StatusOpen)
	require.NoError(t, err)
	require.Len(t, openTrades, 1)
	assert.Equal(t, open.ID, openTrades[0].ID)

	recent, err := repo.FindRecentTrades(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
