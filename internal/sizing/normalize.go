// Package sizing computes and formats order quantities: resolving the
// size of a new order from the signal, and quantizing sizes to the
// venue's lot rules before submission.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradebridge/internal/ports"
)

// NormalizeQuantity quantizes a raw quantity to the venue's lot rules:
// floor(quantity/step)*step, clamped up to minQty, rendered with exactly
// as many decimal places as the step size has. Exchanges reject orders
// whose size violates the step granularity, and float arithmetic drifts
// at the boundary, so this is done in exact decimal arithmetic.
//
// The operation is idempotent: normalizing an already-normalized
// quantity returns the same value.
func NormalizeQuantity(quantity float64, rules *ports.SymbolRules) (string, error) {
	step, err := decimal.NewFromString(rules.QtyStep)
	if err != nil || step.IsZero() {
		return "", fmt.Errorf("invalid qty step %q: %w", rules.QtyStep, ports.ErrInvalidRequest)
	}
	minQty, err := decimal.NewFromString(rules.MinQty)
	if err != nil {
		return "", fmt.Errorf("invalid min qty %q: %w", rules.MinQty, ports.ErrInvalidRequest)
	}

	qty := decimal.NewFromFloat(quantity)
	normalized := qty.Div(step).Floor().Mul(step)
	if normalized.LessThan(minQty) {
		normalized = minQty
	}

	return normalized.StringFixed(stepDecimals(step)), nil
}

// stepDecimals returns the number of decimal places in the step size,
// which is the precision the venue expects quantities rendered with.
func stepDecimals(step decimal.Decimal) int32 {
	exp := step.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
