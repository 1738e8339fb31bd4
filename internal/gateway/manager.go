// Package gateway caches configured exchange clients so repeated calls
// for the same credentials reuse one client instead of re-initializing
// per call.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"tradebridge/internal/adapters/binanceclient"
	"tradebridge/internal/adapters/bybitclient"
	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

// Factory builds an exchange client for a venue. Swappable in tests.
type Factory func(exchange domain.Exchange, apiKey, apiSecret string, isTestnet bool) (ports.ExchangeClient, error)

// Manager is a process-scoped cache of exchange clients keyed by
// (venue, key-prefix, testnet). The cache is unbounded; credential sets
// are few in practice, so growth is bounded by strategy cardinality.
// Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]ports.ExchangeClient

	factory Factory
	logger  ports.Logger
}

// Config holds configuration for the gateway Manager.
type Config struct {
	Logger  ports.Logger
	Factory Factory // Optional; defaults to the real venue adapters
}

// NewManager creates a gateway manager with an empty cache.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for gateway manager")
	}
	m := &Manager{
		clients: make(map[string]ports.ExchangeClient),
		logger:  cfg.Logger,
	}
	m.factory = cfg.Factory
	if m.factory == nil {
		m.factory = m.defaultFactory
	}
	return m, nil
}

// cacheKey identifies one configured client. Only a prefix of the API
// key participates so full key material never sits in map keys.
func cacheKey(exchange domain.Exchange, apiKey string, isTestnet bool) string {
	prefix := "public"
	if len(apiKey) >= 5 {
		prefix = apiKey[:5]
	} else if apiKey != "" {
		prefix = apiKey
	}
	return fmt.Sprintf("%s-%s-%t", exchange, prefix, isTestnet)
}

// Get returns a configured client for the venue, creating and caching
// one on first use.
func (m *Manager) Get(ctx context.Context, exchange domain.Exchange, apiKey, apiSecret string, isTestnet bool) (ports.ExchangeClient, error) {
	if !exchange.IsValid() {
		return nil, fmt.Errorf("unsupported exchange %q: %w", exchange, ports.ErrInvalidRequest)
	}

	key := cacheKey(exchange, apiKey, isTestnet)

	m.mu.RLock()
	client, ok := m.clients[key]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another goroutine may have built the client while we
	// waited for the write lock.
	if client, ok := m.clients[key]; ok {
		return client, nil
	}

	m.logger.Info(ctx, "Creating new exchange client", map[string]interface{}{
		"exchange": exchange,
		"key":      key,
		"testnet":  isTestnet,
	})
	client, err := m.factory(exchange, apiKey, apiSecret, isTestnet)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", exchange, err)
	}
	m.clients[key] = client
	return client, nil
}

func (m *Manager) defaultFactory(exchange domain.Exchange, apiKey, apiSecret string, isTestnet bool) (ports.ExchangeClient, error) {
	switch exchange {
	case domain.ExchangeBinance:
		return binanceclient.New(binanceclient.Config{
			APIKey:     apiKey,
			SecretKey:  apiSecret,
			UseTestnet: isTestnet,
			Logger:     m.logger,
		})
	case domain.ExchangeBybit:
		return bybitclient.New(bybitclient.Config{
			APIKey:     apiKey,
			SecretKey:  apiSecret,
			UseTestnet: isTestnet,
			Logger:     m.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported exchange %q: %w", exchange, ports.ErrInvalidRequest)
	}
}
