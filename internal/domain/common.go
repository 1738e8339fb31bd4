package domain

// Exchange identifies a supported trading venue.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeBybit   Exchange = "BYBIT"
)

// IsValid reports whether the exchange is one of the supported venues.
func (e Exchange) IsValid() bool {
	return e == ExchangeBinance || e == ExchangeBybit
}

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the order type. Only market orders are supported.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// TradeStatus represents the lifecycle state of a trade record.
// Transitions are one-directional: OPEN -> CLOSED, OPEN -> ERROR,
// or terminal SIMULATED/ERROR at creation.
type TradeStatus string

const (
	StatusOpen      TradeStatus = "OPEN"
	StatusClosed    TradeStatus = "CLOSED"
	StatusSimulated TradeStatus = "SIMULATED"
	StatusError     TradeStatus = "ERROR"
)

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonManual CloseReason = "MANUAL"
)
