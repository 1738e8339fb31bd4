package sizing

import (
	"context"
	"fmt"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

// Quote asset used for balance-based sizing.
const quoteAsset = "USDT"

// Hard fallback when neither the signal nor the strategy carries a size.
const fallbackQuantity = 0.002

// Source records which rule produced the resolved quantity.
type Source string

const (
	SourceSignal     Source = "signal"
	SourcePercentage Source = "accountPercentage"
	SourceStrategy   Source = "strategyDefault"
	SourceFallback   Source = "fallback"
)

// Resolution is the outcome of quantity resolution.
type Resolution struct {
	Quantity float64
	Source   Source
	// BalanceDegraded is set when the balance fetch failed and sizing fell
	// back to a zero balance. The resulting order is zero-or-tiny; upstream
	// validation should treat this as suspect.
	BalanceDegraded bool
}

// BalanceSource supplies the live account balance for percentage-based
// sizing. ports.ExchangeClient satisfies it.
type BalanceSource interface {
	GetAccountBalance(ctx context.Context, asset string) (float64, error)
}

// Resolver computes order sizes. Priority order, first match wins:
// explicit signal quantity, accountPercentage with a signal price,
// the strategy's default quantity, then a hard-coded fallback.
type Resolver struct {
	logger ports.Logger
}

// NewResolver creates a quantity resolver.
func NewResolver(logger ports.Logger) (*Resolver, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for quantity resolver")
	}
	return &Resolver{logger: logger}, nil
}

// Resolve computes the order size for a signal. The balance source is
// only consulted for percentage-based sizing; a balance fetch failure
// degrades to a zero balance rather than failing the signal. A nil
// source (dry-run strategies, which must not contact any exchange)
// skips the percentage rule entirely and falls through to the
// strategy default.
func (r *Resolver) Resolve(ctx context.Context, signal *domain.Signal, strategy *domain.Strategy, balances BalanceSource) Resolution {
	if signal.Quantity > 0 {
		r.logger.Debug(ctx, "Using explicit quantity from signal", map[string]interface{}{"quantity": signal.Quantity})
		return Resolution{Quantity: signal.Quantity, Source: SourceSignal}
	}

	if signal.AccountPercentage > 0 && signal.Price > 0 && balances != nil {
		balance, err := balances.GetAccountBalance(ctx, quoteAsset)
		degraded := false
		if err != nil {
			// Degrading to zero keeps the pipeline available at the cost of a
			// near-zero order size. Candidate for a hard failure instead.
			r.logger.Warn(ctx, "Balance fetch failed, sizing with zero balance", map[string]interface{}{
				"strategyID": strategy.ID,
				"error":      err.Error(),
			})
			balance = 0
			degraded = true
		}
		qty := balance * signal.AccountPercentage / 100 / signal.Price
		r.logger.Debug(ctx, "Calculated quantity from account percentage", map[string]interface{}{
			"percentage": signal.AccountPercentage,
			"balance":    balance,
			"quantity":   qty,
		})
		return Resolution{Quantity: qty, Source: SourcePercentage, BalanceDegraded: degraded}
	}

	if strategy.DefaultQuantity > 0 {
		r.logger.Debug(ctx, "Using default quantity from strategy", map[string]interface{}{"quantity": strategy.DefaultQuantity})
		return Resolution{Quantity: strategy.DefaultQuantity, Source: SourceStrategy}
	}

	return Resolution{Quantity: fallbackQuantity, Source: SourceFallback}
}
