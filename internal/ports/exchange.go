package ports

import (
	"context"
	"time"

	"tradebridge/internal/domain"
)

// OrderResponse represents the essential details returned after placing
// or cancelling an order.
type OrderResponse struct {
	OrderID      string    // Exchange's order ID
	Symbol       string    // Symbol for the order
	Price        float64   // Price of the order (may be 0 for market orders initially)
	AvgPrice     float64   // Average filled price
	OrigQuantity float64   // Original quantity requested
	ExecutedQty  float64   // Quantity filled
	Status       string    // Order status (e.g. NEW, FILLED, CANCELED)
	Side         string    // Order side (BUY, SELL)
	Timestamp    time.Time // Time the order response was generated
}

// SymbolRules holds the venue's quantization constraints for a symbol.
// Quantities must be floored to QtyStep and clamped to MinQty before
// submission or the venue rejects the order.
type SymbolRules struct {
	Symbol   string
	QtyStep  string // Minimum quantity increment, e.g. "0.001"
	MinQty   string // Minimum order size, e.g. "0.001"
	TickSize string // Minimum price increment, e.g. "0.01"
}

// MarketOrder describes a market order to submit.
type MarketOrder struct {
	Symbol     string
	Side       domain.OrderSide
	Quantity   string // Already formatted per the venue's step rules
	ReduceOnly bool   // Constrain the order to only decrease an open position
}

// ExchangeClient is the single logical surface over a trading venue.
// One implementation exists per venue; sandbox behavior is a
// configuration concern of the implementation, not of callers.
type ExchangeClient interface {
	// PlaceMarketOrder submits a market order and returns its fill details.
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (*OrderResponse, error)

	// CancelAllOrders cancels every resting order for the symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetOpenPositionSize returns the venue's authoritative open position
	// size for the symbol. Positive for long, negative for short, zero when
	// no position is open.
	GetOpenPositionSize(ctx context.Context, symbol string) (float64, error)

	// GetCurrentPrice returns the last traded price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance returns the available balance for an asset (e.g. "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// GetSymbolRules returns the venue's lot-size and tick rules for the
	// symbol. Implementations fall back to cached defaults when the venue
	// metadata is unavailable.
	GetSymbolRules(ctx context.Context, symbol string) (*SymbolRules, error)
}
