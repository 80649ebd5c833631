// Package schema defines the domain types shared across the gridline core.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the order side.
type Side string

const (
	// SideBuy marks a buy order.
	SideBuy Side = "BUY"
	// SideSell marks a sell order.
	SideSell Side = "SELL"
)

// OrderStatus captures the venue order lifecycle states.
type OrderStatus string

const (
	// OrderStatusNew marks an accepted, resting order.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusPartiallyFilled marks an order with partial executions.
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// OrderStatusFilled marks a completely executed order.
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusCanceled marks a canceled order.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusRejected marks an order the venue refused.
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusExpired marks an order the venue expired.
	OrderStatusExpired OrderStatus = "EXPIRED"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// SymbolRules carries the venue trading filters for one symbol.
// Immutable once fetched; prices and quantities submitted to the venue must
// be exact multiples of TickSize/StepSize at or above the minimums.
type SymbolRules struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	TickSize       decimal.Decimal
	StepSize       decimal.Decimal
	MinQty         decimal.Decimal
	MinNotional    decimal.Decimal
	PricePrecision int32
	QtyPrecision   int32
}

// OpenOrder is the local view of a resting venue order.
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
}

// OrderUpdate projects a streamed execution report.
type OrderUpdate struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	OrderType     string
	TimeInForce   string
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
	CumQty        decimal.Decimal
	LastQty       decimal.Decimal
	LastPrice     decimal.Decimal
	EventTime     time.Time
}

// Open reports whether the update leaves the order resting on the book.
func (u OrderUpdate) Open() bool {
	return !u.Status.Terminal()
}

// Balance holds one asset's wallet amounts.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Ticker is a best bid/ask observation.
type Ticker struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// WalletValuation is the derived wallet worth in quote terms.
type WalletValuation struct {
	QuoteValue decimal.Decimal
	BasisValue decimal.Decimal
	PnLPercent decimal.Decimal
	At         time.Time
}
