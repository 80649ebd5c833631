package engine

import (
	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/errs"
	"github.com/cadogan/gridline/internal/exchange"
)

// sizingMaxSteps bounds the notional re-check loop in sizeBuy.
const sizingMaxSteps = 1000

// sizeBuy computes the buy quantity for a grid price: the largest of the
// quote-amount sizing, the notional-forced minimum, and the venue minimum
// quantity floored to the lot step. The winner is ceiled to the lot step so
// the minimum notional survives step alignment, then truncated to the
// declared quantity precision.
//
// Ceiling to the step can itself land on a notional that still undershoots
// the minimum when the step is coarse; the quantity is walked up one step at
// a time until the notional holds rather than submitting a violating order.
func (e *Engine) sizeBuy(price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, errs.New("", errs.CodeInvalid, errs.WithMessage("non-positive price"))
	}
	quote := e.QuotePerLevel()

	qty := quote.Div(price)
	if byNotional := e.rules.MinNotional.Div(price); byNotional.GreaterThan(qty) {
		qty = byNotional
	}
	minQty := exchange.FloorToStep(e.rules.MinQty, e.rules.StepSize, e.rules.QtyPrecision)
	if minQty.GreaterThan(qty) {
		qty = minQty
	}

	qty = exchange.CeilToStep(qty, e.rules.StepSize, e.rules.QtyPrecision)
	for i := 0; qty.Mul(price).LessThan(e.rules.MinNotional); i++ {
		if i >= sizingMaxSteps {
			return decimal.Zero, errs.New("", errs.CodeInvalid,
				errs.WithMessage("cannot satisfy min notional at price "+price.String()))
		}
		qty = qty.Add(e.rules.StepSize)
	}
	return qty.Truncate(e.rules.QtyPrecision), nil
}
