package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/vault"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockStrategyRepo struct {
	mu         sync.Mutex
	strategies map[string]*domain.Strategy
	findErr    error
}

func newMockStrategyRepo() *mockStrategyRepo {
	return &mockStrategyRepo{strategies: make(map[string]*domain.Strategy)}
}

func (m *mockStrategyRepo) CreateStrategy(ctx context.Context, s *domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.ID] = s
	return nil
}

func (m *mockStrategyRepo) FindStrategyByID(ctx context.Context, id string) (*domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.strategies[id], nil
}

func (m *mockStrategyRepo) FindAllStrategies(ctx context.Context) ([]*domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStrategyRepo) UpdateStrategy(ctx context.Context, s *domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[s.ID]; !ok {
		return ports.ErrNotFound
	}
	m.strategies[s.ID] = s
	return nil
}

func (m *mockStrategyRepo) DeleteStrategy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strategies, id)
	return nil
}

type mockTradeRepo struct {
	mu        sync.Mutex
	trades    map[string]*domain.Trade
	createErr error
	updateErr error
	closeErr  error
}

func newMockTradeRepo() *mockTradeRepo {
	return &mockTradeRepo{trades: make(map[string]*domain.Trade)}
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *mockTradeRepo) FindTradeByID(ctx context.Context, id string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *mockTradeRepo) FindTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		cp := *t
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockTradeRepo) UpdateTradePNL(ctx context.Context, id string, pnl float64, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	t, ok := m.trades[id]
	if !ok || t.Status != domain.StatusOpen {
		return ports.ErrNotFound
	}
	if t.Version != version {
		return ports.ErrConflict
	}
	t.PNL = &pnl
	t.Version++
	return nil
}

func (m *mockTradeRepo) CloseTrade(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	stored, ok := m.trades[t.ID]
	if !ok || stored.Status != domain.StatusOpen {
		return ports.ErrNotFound
	}
	if stored.Version != t.Version {
		return ports.ErrConflict
	}
	cp := *t
	cp.Version = stored.Version + 1
	m.trades[t.ID] = &cp
	return nil
}

func (m *mockTradeRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

func (m *mockTradeRepo) get(id string) *domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[id]
}

// mockExchange counts calls so tests can assert which venue operations
// ran. Return values and errors are injectable per method.
type mockExchange struct {
	mu sync.Mutex

	placeCalls   int
	cancelCalls  int
	sizeCalls    int
	priceCalls   int
	balanceCalls int
	rulesCalls   int

	lastOrder ports.MarketOrder

	orderResp  *ports.OrderResponse
	placeErr   error
	cancelErr  error
	size       float64
	sizeErr    error
	price      float64
	priceErr   error
	balance    float64
	balanceErr error
	rules      *ports.SymbolRules
	rulesErr   error
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		orderResp: &ports.OrderResponse{OrderID: "order-1", Status: "FILLED"},
		rules:     &ports.SymbolRules{QtyStep: "0.001", MinQty: "0.001", TickSize: "0.01"},
	}
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, order ports.MarketOrder) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCalls++
	m.lastOrder = order
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	return m.orderResp, nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	return m.cancelErr
}

func (m *mockExchange) GetOpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeCalls++
	return m.size, m.sizeErr
}

func (m *mockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls++
	return m.price, m.priceErr
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	return m.balance, m.balanceErr
}

func (m *mockExchange) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rulesCalls++
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	return m.rules, nil
}

func (m *mockExchange) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls + m.cancelCalls + m.sizeCalls + m.priceCalls + m.balanceCalls + m.rulesCalls
}

// mockProvider hands the same client to every caller, or a per-symbol
// client when clientFor is set.
type mockProvider struct {
	mu        sync.Mutex
	client    ports.ExchangeClient
	clientFor func(exchange domain.Exchange) ports.ExchangeClient
	getErr    error
	getCalls  int
}

func (m *mockProvider) Get(ctx context.Context, exchange domain.Exchange, apiKey, apiSecret string, isTestnet bool) (ports.ExchangeClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.clientFor != nil {
		return m.clientFor(exchange), nil
	}
	return m.client, nil
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("test-secret")
	require.NoError(t, err)
	return v
}

func encrypted(t *testing.T, v *vault.Vault, s string) string {
	t.Helper()
	out, err := v.Encrypt(s)
	require.NoError(t, err)
	return out
}

func testStrategy(t *testing.T, v *vault.Vault) *domain.Strategy {
	t.Helper()
	return &domain.Strategy{
		ID:              "strat-1",
		Name:            "momentum",
		Symbol:          "BTC/USDT",
		Exchange:        domain.ExchangeBinance,
		IsActive:        true,
		DefaultQuantity: 0.01,
		APIKey:          encrypted(t, v, "key-material"),
		APISecret:       encrypted(t, v, "secret-material"),
	}
}
