package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/errs"
	"github.com/cadogan/gridline/internal/schema"
)

// OrderAck is the venue's acknowledgment of a placement.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        schema.OrderStatus
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
}

type openOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
}

// PlaceLimitOrder submits a limit order after conservative rounding: BUY
// prices floor to tick, SELL prices ceil to tick, quantities floor to step.
// Filter violations are rejected locally before any network call.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side schema.Side, price, qty decimal.Decimal, rules schema.SymbolRules, timeInForce, clientID string) (OrderAck, error) {
	if side == schema.SideBuy {
		price = FloorToStep(price, rules.TickSize, rules.PricePrecision)
	} else {
		price = CeilToStep(price, rules.TickSize, rules.PricePrecision)
	}
	qty = FloorToStep(qty, rules.StepSize, rules.QtyPrecision)

	if qty.LessThan(rules.MinQty) {
		return OrderAck{}, errs.New(c.opts.Name, errs.CodeInvalid,
			errs.WithMessage("quantity "+qty.String()+" below minimum "+rules.MinQty.String()))
	}
	if price.Mul(qty).LessThan(rules.MinNotional) {
		return OrderAck{}, errs.New(c.opts.Name, errs.CodeInvalid,
			errs.WithMessage("notional "+price.Mul(qty).String()+" below minimum "+rules.MinNotional.String()))
	}

	if timeInForce == "" {
		timeInForce = "GTC"
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", timeInForce)
	params.Set("price", price.String())
	params.Set("quantity", qty.String())
	if clientID != "" {
		params.Set("newClientOrderId", clientID)
	}
	var order orderResponse
	if err := c.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &order); err != nil {
		return OrderAck{}, err
	}
	return ackFromResponse(order, price, qty), nil
}

// PlaceMarketSell submits a market sell for qty under the same signing
// discipline, with no price attached.
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", string(schema.SideSell))
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	if clientID != "" {
		params.Set("newClientOrderId", clientID)
	}
	var order orderResponse
	if err := c.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &order); err != nil {
		return OrderAck{}, err
	}
	return ackFromResponse(order, decimal.Zero, qty), nil
}

func ackFromResponse(order orderResponse, fallbackPrice, fallbackQty decimal.Decimal) OrderAck {
	ack := OrderAck{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Status:        schema.OrderStatus(strings.ToUpper(strings.TrimSpace(order.Status))),
		Price:         fallbackPrice,
		OrigQty:       fallbackQty,
	}
	if parsed, err := decimal.NewFromString(strings.TrimSpace(order.Price)); err == nil && !parsed.IsZero() {
		ack.Price = parsed
	}
	if parsed, err := decimal.NewFromString(strings.TrimSpace(order.OrigQty)); err == nil && !parsed.IsZero() {
		ack.OrigQty = parsed
	}
	return ack
}

// OpenOrders lists the resting orders for symbol; an empty symbol lists all.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]schema.OpenOrder, error) {
	params := url.Values{}
	if trimmed := strings.ToUpper(strings.TrimSpace(symbol)); trimmed != "" {
		params.Set("symbol", trimmed)
	}
	var payload []openOrderResponse
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/openOrders", params, &payload); err != nil {
		return nil, err
	}
	orders := make([]schema.OpenOrder, 0, len(payload))
	for _, entry := range payload {
		order, err := openOrderFromResponse(entry)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func openOrderFromResponse(entry openOrderResponse) (schema.OpenOrder, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(entry.Price))
	if err != nil {
		return schema.OpenOrder{}, errs.New("", errs.CodeParse,
			errs.WithMessage("open order price"), errs.WithCause(err))
	}
	origQty, err := decimal.NewFromString(strings.TrimSpace(entry.OrigQty))
	if err != nil {
		return schema.OpenOrder{}, errs.New("", errs.CodeParse,
			errs.WithMessage("open order qty"), errs.WithCause(err))
	}
	executed := decimal.Zero
	if trimmed := strings.TrimSpace(entry.ExecutedQty); trimmed != "" {
		if parsed, err := decimal.NewFromString(trimmed); err == nil {
			executed = parsed
		}
	}
	return schema.OpenOrder{
		OrderID:       entry.OrderID,
		ClientOrderID: entry.ClientOrderID,
		Symbol:        entry.Symbol,
		Side:          schema.Side(strings.ToUpper(entry.Side)),
		Status:        schema.OrderStatus(strings.ToUpper(entry.Status)),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   executed,
	}, nil
}

// CancelOrder cancels one order by venue id. A venue "unknown order"
// rejection is surfaced as-is; call sites decide whether it is benign.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return c.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

// CancelAllOpenOrders cancels every resting order for symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	return c.signedCall(ctx, http.MethodDelete, "/api/v3/openOrders", params, nil)
}

// UnknownOrderCode is the venue error code returned when canceling an order
// that is already gone; callers treat it as a no-op success.
const UnknownOrderCode = "-2011"

// IsUnknownOrder reports whether err is the venue's "unknown order" rejection.
func IsUnknownOrder(err error) bool {
	code, ok := errs.VenueCode(err)
	return ok && code == UnknownOrderCode
}
