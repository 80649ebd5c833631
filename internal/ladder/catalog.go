// Package ladder implements the precomputed price-level catalog for the grid.
package ladder

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/internal/exchange"
)

// Level is one rung of the ladder: a tick-aligned buy price and, except at
// the top, the next-higher level's price as its paired sell target.
type Level struct {
	Index int
	Buy   decimal.Decimal
	// Sell is zero on the top level.
	Sell decimal.Decimal
}

// HasSell reports whether the level has a paired sell target.
func (l Level) HasSell() bool {
	return !l.Sell.IsZero()
}

// Params are the generating parameters of a catalog. Two catalogs built from
// equal params are identical, which is what makes the file cache safe.
type Params struct {
	Symbol      string
	StepPercent decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	TickSize    decimal.Decimal
}

// Catalog is the immutable, strictly increasing set of grid price levels.
type Catalog struct {
	params Params
	levels []Level
}

// Build constructs a catalog: starting at the tick-ceiled floor, each level
// advances by stepPercent and ceils to tick, forcing at least one tick of
// progress when ceiling stalls, until the ceiling price is exceeded.
func Build(params Params) (*Catalog, error) {
	if params.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("ladder: tick size must be positive")
	}
	if params.StepPercent.Sign() <= 0 {
		return nil, fmt.Errorf("ladder: step percent must be positive")
	}
	if params.MinPrice.Sign() <= 0 || params.MaxPrice.LessThanOrEqual(params.MinPrice) {
		return nil, fmt.Errorf("ladder: price bounds invalid: [%s, %s]", params.MinPrice, params.MaxPrice)
	}

	precision := exchange.StepPrecision(params.TickSize.String())
	factor := decimal.New(1, 0).Add(params.StepPercent.Div(decimal.New(100, 0)))

	var levels []Level
	price := exchange.CeilToStep(params.MinPrice, params.TickSize, precision)
	for price.LessThanOrEqual(params.MaxPrice) {
		levels = append(levels, Level{Index: len(levels), Buy: price})
		next := exchange.CeilToStep(price.Mul(factor), params.TickSize, precision)
		if !next.GreaterThan(price) {
			// Precision stall: force one tick of advance.
			next = price.Add(params.TickSize)
		}
		price = next
	}
	for i := range levels {
		if i+1 < len(levels) {
			levels[i].Sell = levels[i+1].Buy
		}
	}
	if err := assertStrictlyIncreasing(levels); err != nil {
		return nil, err
	}
	return &Catalog{params: params, levels: levels}, nil
}

func assertStrictlyIncreasing(levels []Level) error {
	for i := 1; i < len(levels); i++ {
		if !levels[i].Buy.GreaterThan(levels[i-1].Buy) {
			return fmt.Errorf("ladder: levels not strictly increasing at index %d (%s then %s)",
				i, levels[i-1].Buy, levels[i].Buy)
		}
	}
	return nil
}

// Params returns the generating parameters.
func (c *Catalog) Params() Params {
	return c.params
}

// Len returns the level count.
func (c *Catalog) Len() int {
	return len(c.levels)
}

// Levels returns a copy of the full ordered level list.
func (c *Catalog) Levels() []Level {
	out := make([]Level, len(c.levels))
	copy(out, c.levels)
	return out
}

// LevelsBelow returns up to count levels whose buy price is strictly below
// ask, walking downward from the highest such level. The result is the
// engine's desired buy set, in descending price order.
func (c *Catalog) LevelsBelow(ask decimal.Decimal, count int) []Level {
	if count <= 0 || len(c.levels) == 0 {
		return nil
	}
	// First index at or above ask; the level below it is the highest valid one.
	idx := sort.Search(len(c.levels), func(i int) bool {
		return !c.levels[i].Buy.LessThan(ask)
	})
	top := idx - 1
	if top < 0 {
		return nil
	}
	out := make([]Level, 0, count)
	for i := top; i >= 0 && len(out) < count; i-- {
		out = append(out, c.levels[i])
	}
	return out
}

// PairedSellFor resolves the sell target for a buy price: exact match first,
// then an epsilon-tolerant match to absorb rounding noise from prices that
// were rounded independently of the catalog.
func (c *Catalog) PairedSellFor(buyPrice decimal.Decimal) (decimal.Decimal, bool) {
	idx := sort.Search(len(c.levels), func(i int) bool {
		return !c.levels[i].Buy.LessThan(buyPrice)
	})
	if idx < len(c.levels) && c.levels[idx].Buy.Equal(buyPrice) {
		return sellOf(c.levels[idx])
	}
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(c.levels) {
			continue
		}
		if withinTolerance(c.levels[i].Buy, buyPrice) {
			return sellOf(c.levels[i])
		}
	}
	return decimal.Zero, false
}

func sellOf(level Level) (decimal.Decimal, bool) {
	if !level.HasSell() {
		return decimal.Zero, false
	}
	return level.Sell, true
}

// withinTolerance applies a relative tolerance of ~1e-10 with a small
// absolute floor.
func withinTolerance(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	tolerance := a.Abs().Mul(relTolerance)
	if tolerance.LessThan(absTolerance) {
		tolerance = absTolerance
	}
	return diff.LessThanOrEqual(tolerance)
}

var (
	relTolerance = decimal.New(1, -10)
	absTolerance = decimal.New(1, -12)
)
