package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/internal/exchange"
	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

func (e *Engine) intakeLoop(ctx context.Context, updates <-chan schema.OrderUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			e.applyOrderUpdate(ctx, update)
		}
	}
}

// applyOrderUpdate folds one execution report into the local view: open
// statuses upsert, terminal statuses remove, and a filled buy emits its
// paired sell. Any acknowledgment for a price releases its in-flight
// reservation.
func (e *Engine) applyOrderUpdate(ctx context.Context, update schema.OrderUpdate) {
	if update.Symbol != "" && update.Symbol != e.rules.Symbol {
		return
	}
	e.release(e.priceKey(update.Price))

	if update.Open() {
		e.ordersMu.Lock()
		e.open[update.OrderID] = schema.OpenOrder{
			OrderID:       update.OrderID,
			ClientOrderID: update.ClientOrderID,
			Symbol:        update.Symbol,
			Side:          update.Side,
			Status:        update.Status,
			Price:         update.Price,
			OrigQty:       update.OrigQty,
			ExecutedQty:   update.CumQty,
		}
		e.ordersMu.Unlock()
		return
	}

	e.ordersMu.Lock()
	delete(e.open, update.OrderID)
	e.ordersMu.Unlock()

	if update.Status == schema.OrderStatusFilled && update.Side == schema.SideBuy {
		e.placePairedSell(ctx, update)
	}
}

// placePairedSell converts a filled buy into the sell one ladder step
// higher. A buy price missing from the catalog is a state inconsistency
// handled by recomputing the step arithmetically.
func (e *Engine) placePairedSell(ctx context.Context, fill schema.OrderUpdate) {
	sellPrice, ok := e.catalog.PairedSellFor(fill.Price)
	if !ok {
		sellPrice = e.fallbackSellPrice(fill.Price)
		observability.Log().Error("fill price missing from catalog",
			observability.F("price", fill.Price), observability.F("fallback", sellPrice))
	}
	qty := fill.CumQty
	if qty.IsZero() {
		qty = fill.OrigQty
	}
	ack, err := e.venue.PlaceLimitOrder(ctx, e.rules.Symbol, schema.SideSell, sellPrice, qty, e.rules, "GTC", newClientID())
	if err != nil {
		observability.Log().Error("paired sell placement failed",
			observability.F("buy_price", fill.Price),
			observability.F("sell_price", sellPrice),
			observability.F("err", err))
		return
	}
	e.recordAck(ack, schema.SideSell)
	observability.Telemetry().IncCounter("orders_placed", 1,
		map[string]string{"symbol": e.rules.Symbol, "side": "sell"})
	observability.Log().Info("buy filled, paired sell placed",
		observability.F("buy_price", fill.Price),
		observability.F("sell_price", sellPrice),
		observability.F("qty", qty))
}

// fallbackSellPrice applies one grid step above the buy price, tick-ceiled.
func (e *Engine) fallbackSellPrice(buyPrice decimal.Decimal) decimal.Decimal {
	step := e.catalog.Params().StepPercent.Div(decimal.New(100, 0))
	raw := buyPrice.Mul(decimal.New(1, 0).Add(step))
	return exchange.CeilToStep(raw, e.rules.TickSize, e.rules.PricePrecision)
}
