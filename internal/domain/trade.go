package domain

import "time"

// Trade is the local record of one attempted or realized position.
//
// Quantity is the requested size at entry; the exchange's live position
// size is authoritative and may diverge (external fills, manual
// intervention). The close workflow always re-queries the exchange
// before closing.
type Trade struct {
	ID              string      // UUID
	StrategyID      string      // Weak reference; the trade outlives a deleted strategy
	Symbol          string      // Exchange-normalized symbol (e.g. "BTCUSDT")
	Side            OrderSide   // BUY or SELL
	Type            OrderType   // MARKET only
	EntryPrice      float64     // Fill price, or signal price if the venue reported none
	Quantity        float64     // Requested size
	PNL             *float64    // nil = not yet computed; zero = computed as zero
	Status          TradeStatus // OPEN, CLOSED, SIMULATED or ERROR
	ExchangeOrderID string      // Venue order id, empty if no order was placed
	Error           string      // Failure message for ERROR trades
	ExitPrice       *float64    // Set on close
	CloseReason     CloseReason // Set on close
	Version         int64       // Optimistic concurrency guard for updates
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// IsOpen reports whether the trade is still open.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}
