package exchange

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/errs"
	"github.com/cadogan/gridline/internal/schema"
)

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol     string               `json:"symbol"`
	Status     string               `json:"status"`
	BaseAsset  string               `json:"baseAsset"`
	QuoteAsset string               `json:"quoteAsset"`
	Filters    []exchangeInfoFilter `json:"filters"`
}

type exchangeInfoFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
}

// SymbolRules fetches the venue trading filters for symbol. It fails with a
// state error when the symbol is absent from the exchange metadata.
func (c *Client) SymbolRules(ctx context.Context, symbol string) (schema.SymbolRules, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	params := url.Values{}
	params.Set("symbol", symbol)
	var payload exchangeInfoResponse
	if err := c.getJSON(ctx, "/api/v3/exchangeInfo", params, &payload); err != nil {
		return schema.SymbolRules{}, err
	}
	for _, sym := range payload.Symbols {
		if !strings.EqualFold(sym.Symbol, symbol) {
			continue
		}
		rules, err := buildRules(symbol, sym.Filters)
		if err != nil {
			return schema.SymbolRules{}, err
		}
		rules.BaseAsset = strings.ToUpper(strings.TrimSpace(sym.BaseAsset))
		rules.QuoteAsset = strings.ToUpper(strings.TrimSpace(sym.QuoteAsset))
		return rules, nil
	}
	return schema.SymbolRules{}, errs.New(c.opts.Name, errs.CodeState,
		errs.WithMessage("symbol metadata unavailable: "+symbol))
}

func buildRules(symbol string, filters []exchangeInfoFilter) (schema.SymbolRules, error) {
	rules := schema.SymbolRules{Symbol: symbol}
	for _, filter := range filters {
		switch strings.ToUpper(strings.TrimSpace(filter.FilterType)) {
		case "PRICE_FILTER":
			tick, err := decimal.NewFromString(strings.TrimSpace(filter.TickSize))
			if err != nil {
				return schema.SymbolRules{}, errs.New("", errs.CodeParse,
					errs.WithMessage("tick size"), errs.WithCause(err))
			}
			rules.TickSize = tick
			rules.PricePrecision = StepPrecision(filter.TickSize)
		case "LOT_SIZE":
			step, err := decimal.NewFromString(strings.TrimSpace(filter.StepSize))
			if err != nil {
				return schema.SymbolRules{}, errs.New("", errs.CodeParse,
					errs.WithMessage("step size"), errs.WithCause(err))
			}
			rules.StepSize = step
			rules.QtyPrecision = StepPrecision(filter.StepSize)
			if minQty := strings.TrimSpace(filter.MinQty); minQty != "" {
				parsed, err := decimal.NewFromString(minQty)
				if err != nil {
					return schema.SymbolRules{}, errs.New("", errs.CodeParse,
						errs.WithMessage("min qty"), errs.WithCause(err))
				}
				rules.MinQty = parsed
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if minNotional := strings.TrimSpace(filter.MinNotional); minNotional != "" {
				parsed, err := decimal.NewFromString(minNotional)
				if err != nil {
					return schema.SymbolRules{}, errs.New("", errs.CodeParse,
						errs.WithMessage("min notional"), errs.WithCause(err))
				}
				rules.MinNotional = parsed
			}
		}
	}
	if rules.TickSize.IsZero() || rules.StepSize.IsZero() {
		return schema.SymbolRules{}, errs.New("", errs.CodeState,
			errs.WithMessage("incomplete filters for "+symbol))
	}
	return rules, nil
}

// StepPrecision derives the implied decimal precision of a unit string: the
// digit count after the point once trailing zeros are stripped ("0.00100" -> 3).
func StepPrecision(unit string) int32 {
	unit = strings.TrimSpace(unit)
	dot := strings.IndexByte(unit, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(unit[dot+1:], "0")
	return int32(len(frac))
}

// FloorToStep aligns value down to an exact multiple of unit, truncated to
// the unit's implied precision. Truncation, never half-even rounding.
func FloorToStep(value, unit decimal.Decimal, precision int32) decimal.Decimal {
	if unit.IsZero() {
		return value.Truncate(precision)
	}
	return value.Div(unit).Floor().Mul(unit).Truncate(precision)
}

// CeilToStep aligns value up to an exact multiple of unit, truncated to the
// unit's implied precision.
func CeilToStep(value, unit decimal.Decimal, precision int32) decimal.Decimal {
	if unit.IsZero() {
		return value.Truncate(precision)
	}
	return value.Div(unit).Ceil().Mul(unit).Truncate(precision)
}
