package domain

import "strings"

// Signal is an inbound instruction to open a position, typically posted
// by an alerting system. The shared-secret check on Secret is performed
// by the HTTP boundary, not by the execution pipeline.
type Signal struct {
	Secret            string  `json:"secret"`
	Symbol            string  `json:"symbol"` // As sent, e.g. "BTC/USDT"
	Action            string  `json:"action"` // "buy" or "sell"
	Price             float64 `json:"price,omitempty"`
	StrategyID        string  `json:"strategyId,omitempty"`
	StopLoss          float64 `json:"stopLoss,omitempty"`
	TakeProfit        float64 `json:"takeProfit,omitempty"`
	Quantity          float64 `json:"quantity,omitempty"`
	AccountPercentage float64 `json:"accountPercentage,omitempty"`
}

// Side maps the signal action onto an order side. The second return is
// false when the action is neither "buy" nor "sell".
func (s *Signal) Side() (OrderSide, bool) {
	switch strings.ToLower(s.Action) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return "", false
	}
}
