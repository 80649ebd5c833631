// Package engine implements the reconciliation loop that keeps the grid's
// desired buy set in line with the orders actually resting on the venue.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/cadogan/gridline/internal/bus"
	"github.com/cadogan/gridline/internal/exchange"
	"github.com/cadogan/gridline/internal/ladder"
	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

const askMaxAge = 10 * time.Second

// VenueClient is the trading surface the engine drives.
type VenueClient interface {
	PlaceLimitOrder(ctx context.Context, symbol string, side schema.Side, price, qty decimal.Decimal, rules schema.SymbolRules, timeInForce, clientID string) (exchange.OrderAck, error)
	OpenOrders(ctx context.Context, symbol string) ([]schema.OpenOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	AskPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Options configure an engine instance.
type Options struct {
	Rules         schema.SymbolRules
	Catalog       *ladder.Catalog
	TargetLevels  int
	QuotePerLevel decimal.Decimal
	PassInterval  time.Duration
	// PlacementDelay paces consecutive placements within one pass.
	PlacementDelay time.Duration
}

// Engine runs the reconciliation loop for one symbol.
type Engine struct {
	venue   VenueClient
	catalog *ladder.Catalog
	rules   schema.SymbolRules
	bus     *bus.Bus
	opts    Options
	limiter *rate.Limiter
	clock   func() time.Time

	// open orders, keyed by venue order id
	ordersMu sync.Mutex
	open     map[int64]schema.OpenOrder

	// prices currently being placed but not yet acknowledged
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	askMu sync.Mutex
	ask   decimal.Decimal
	askAt time.Time

	quoteMu       sync.Mutex
	quotePerLevel decimal.Decimal

	walletMu sync.Mutex
	basis    decimal.Decimal
	balances map[string]schema.Balance

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

// New constructs an engine. The quote amount per level is clamped up to the
// symbol's minimum notional.
func New(venue VenueClient, b *bus.Bus, opts Options) *Engine {
	if opts.PassInterval <= 0 {
		opts.PassInterval = 5 * time.Second
	}
	if opts.PlacementDelay <= 0 {
		opts.PlacementDelay = 250 * time.Millisecond
	}
	e := &Engine{
		venue:    venue,
		catalog:  opts.Catalog,
		rules:    opts.Rules,
		bus:      b,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.PlacementDelay), 1),
		clock:    time.Now,
		open:     make(map[int64]schema.OpenOrder),
		inflight: make(map[string]struct{}),
		balances: make(map[string]schema.Balance),
	}
	e.quotePerLevel = clampQuote(opts.QuotePerLevel, opts.Rules.MinNotional)
	return e
}

func clampQuote(amount, minNotional decimal.Decimal) decimal.Decimal {
	if amount.LessThan(minNotional) {
		return minNotional
	}
	return amount
}

// SetQuotePerLevel replaces the per-level quote amount, clamped up to the
// symbol's minimum notional when below it.
func (e *Engine) SetQuotePerLevel(amount decimal.Decimal) decimal.Decimal {
	clamped := clampQuote(amount, e.rules.MinNotional)
	e.quoteMu.Lock()
	e.quotePerLevel = clamped
	e.quoteMu.Unlock()
	return clamped
}

// QuotePerLevel returns the current per-level quote amount.
func (e *Engine) QuotePerLevel() decimal.Decimal {
	e.quoteMu.Lock()
	defer e.quoteMu.Unlock()
	return e.quotePerLevel
}

// Start launches the reconciliation loop and the event intake loops. It is a
// no-op when the engine is already running.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	wg := conc.NewWaitGroup()
	e.wg = wg

	ordersID, orders := e.bus.Orders.Subscribe()
	tickersID, tickers := e.bus.Tickers.Subscribe()
	balancesID, balances := e.bus.Balances.Subscribe()

	wg.Go(func() {
		defer e.bus.Orders.Unsubscribe(ordersID)
		e.intakeLoop(ctx, orders)
	})
	wg.Go(func() {
		defer e.bus.Tickers.Unsubscribe(tickersID)
		e.tickerLoop(ctx, tickers)
	})
	wg.Go(func() {
		defer e.bus.Balances.Unsubscribe(balancesID)
		e.balanceLoop(ctx, balances)
	})
	wg.Go(func() {
		e.passLoop(ctx)
	})
	observability.Log().Info("engine started", observability.F("symbol", e.rules.Symbol))
}

// Stop cancels the loops and waits for them to unwind.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	wg := e.wg
	e.cancel = nil
	e.wg = nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	observability.Log().Info("engine stopped", observability.F("symbol", e.rules.Symbol))
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.cancel != nil
}

func (e *Engine) passLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PassInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := e.clock()
			err := e.Reconcile(ctx)
			observability.Telemetry().ObserveHistogram("reconcile_pass_seconds",
				e.clock().Sub(started).Seconds(), map[string]string{"symbol": e.rules.Symbol})
			if err != nil && ctx.Err() == nil {
				observability.Log().Error("reconcile pass failed", observability.F("err", err))
			}
		}
	}
}

func (e *Engine) tickerLoop(ctx context.Context, tickers <-chan schema.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickers:
			if !ok {
				return
			}
			e.askMu.Lock()
			e.ask = t.Ask
			e.askAt = t.At
			e.askMu.Unlock()
			e.publishValuation(t.Ask)
		}
	}
}

func (e *Engine) balanceLoop(ctx context.Context, balances <-chan map[string]schema.Balance) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-balances:
			if !ok {
				return
			}
			e.walletMu.Lock()
			e.balances = snapshot
			e.walletMu.Unlock()
			if ask, err := e.currentAsk(ctx); err == nil {
				e.publishValuation(ask)
			}
		}
	}
}

// currentAsk returns the cached ask, refreshing over REST when it is older
// than ten seconds.
func (e *Engine) currentAsk(ctx context.Context) (decimal.Decimal, error) {
	e.askMu.Lock()
	ask := e.ask
	age := e.clock().Sub(e.askAt)
	e.askMu.Unlock()
	if !ask.IsZero() && age < askMaxAge {
		return ask, nil
	}
	fresh, err := e.venue.AskPrice(ctx, e.rules.Symbol)
	if err != nil {
		if !ask.IsZero() {
			return ask, nil
		}
		return decimal.Zero, err
	}
	e.askMu.Lock()
	e.ask = fresh
	e.askAt = e.clock()
	e.askMu.Unlock()
	return fresh, nil
}

// Reconcile executes one pass: dedupe, then either cancel down to the
// desired count or place the missing levels. Cancels and placements never
// happen in the same pass, so a concurrent fill cannot overshoot the order
// budget.
func (e *Engine) Reconcile(ctx context.Context) error {
	ask, err := e.currentAsk(ctx)
	if err != nil {
		return err
	}

	desiredCount := e.opts.TargetLevels - e.openSellCount()
	if desiredCount < 0 {
		desiredCount = 0
	}
	desired := e.catalog.LevelsBelow(ask, desiredCount)

	if canceled := e.cancelDuplicates(ctx); canceled {
		return nil
	}

	openBuys := e.openBuys()
	if len(openBuys) > len(desired) {
		e.cancelExcess(ctx, openBuys, desired)
		return nil
	}

	return e.placeMissing(ctx, openBuys, desired)
}

func (e *Engine) openSellCount() int {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	count := 0
	for _, order := range e.open {
		if order.Side == schema.SideSell {
			count++
		}
	}
	return count
}

func (e *Engine) openBuys() []schema.OpenOrder {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	out := make([]schema.OpenOrder, 0, len(e.open))
	for _, order := range e.open {
		if order.Side == schema.SideBuy {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// cancelDuplicates cancels all but one order at any price with more than one
// open buy. Reports whether anything was canceled, which ends the pass.
func (e *Engine) cancelDuplicates(ctx context.Context) bool {
	byPrice := make(map[string][]schema.OpenOrder)
	for _, order := range e.openBuys() {
		key := e.priceKey(order.Price)
		byPrice[key] = append(byPrice[key], order)
	}
	canceled := false
	for _, orders := range byPrice {
		for _, order := range orders[1:] {
			e.cancelOrder(ctx, order)
			canceled = true
		}
	}
	return canceled
}

// cancelExcess trims the open buy set down to the desired count: orders at
// prices outside the desired set go first, then the farthest-from-ask
// (lowest-priced) desired orders.
func (e *Engine) cancelExcess(ctx context.Context, openBuys []schema.OpenOrder, desired []ladder.Level) {
	desiredKeys := make(map[string]struct{}, len(desired))
	for _, level := range desired {
		desiredKeys[e.priceKey(level.Buy)] = struct{}{}
	}
	excess := len(openBuys) - len(desired)

	// openBuys is sorted ascending, so walking it front-to-back cancels the
	// lowest-priced candidates first.
	for _, order := range openBuys {
		if excess <= 0 {
			return
		}
		if _, ok := desiredKeys[e.priceKey(order.Price)]; ok {
			continue
		}
		e.cancelOrder(ctx, order)
		excess--
	}
	for _, order := range openBuys {
		if excess <= 0 {
			return
		}
		if _, ok := desiredKeys[e.priceKey(order.Price)]; !ok {
			continue
		}
		e.cancelOrder(ctx, order)
		excess--
	}
}

// cancelOrder cancels on the venue and drops the local entry. A venue
// "unknown order" rejection is a no-op success: the order is already gone
// and the stream or next snapshot confirms it.
func (e *Engine) cancelOrder(ctx context.Context, order schema.OpenOrder) {
	err := e.venue.CancelOrder(ctx, e.rules.Symbol, order.OrderID)
	if err != nil && !exchange.IsUnknownOrder(err) {
		observability.Log().Error("cancel failed",
			observability.F("order_id", order.OrderID), observability.F("err", err))
		return
	}
	e.ordersMu.Lock()
	delete(e.open, order.OrderID)
	e.ordersMu.Unlock()
	observability.Telemetry().IncCounter("orders_canceled", 1, map[string]string{"symbol": e.rules.Symbol})
}

// placeMissing places a buy at every desired price that has neither an open
// order nor an in-flight reservation, pacing consecutive placements.
func (e *Engine) placeMissing(ctx context.Context, openBuys []schema.OpenOrder, desired []ladder.Level) error {
	openKeys := make(map[string]struct{}, len(openBuys))
	for _, order := range openBuys {
		openKeys[e.priceKey(order.Price)] = struct{}{}
	}
	for _, level := range desired {
		key := e.priceKey(level.Buy)
		if _, ok := openKeys[key]; ok {
			continue
		}
		if !e.reserve(key) {
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			e.release(key)
			return err
		}
		if err := e.placeBuy(ctx, level.Buy); err != nil {
			e.release(key)
			if ctx.Err() != nil {
				return err
			}
			observability.Log().Error("buy placement failed",
				observability.F("price", level.Buy), observability.F("err", err))
		}
	}
	return nil
}

func (e *Engine) placeBuy(ctx context.Context, price decimal.Decimal) error {
	qty, err := e.sizeBuy(price)
	if err != nil {
		return err
	}
	clientID := newClientID()
	ack, err := e.venue.PlaceLimitOrder(ctx, e.rules.Symbol, schema.SideBuy, price, qty, e.rules, "GTC", clientID)
	if err != nil {
		return err
	}
	e.recordAck(ack, schema.SideBuy)
	observability.Telemetry().IncCounter("orders_placed", 1,
		map[string]string{"symbol": e.rules.Symbol, "side": "buy"})
	return nil
}

func (e *Engine) recordAck(ack exchange.OrderAck, side schema.Side) {
	if ack.Status.Terminal() {
		return
	}
	e.ordersMu.Lock()
	e.open[ack.OrderID] = schema.OpenOrder{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Symbol:        e.rules.Symbol,
		Side:          side,
		Status:        ack.Status,
		Price:         ack.Price,
		OrigQty:       ack.OrigQty,
	}
	e.ordersMu.Unlock()
}

func newClientID() string {
	return "grid-" + uuid.NewString()
}

// priceKey normalizes a price to a fixed-precision string so map keys match
// across independently parsed representations.
func (e *Engine) priceKey(price decimal.Decimal) string {
	return price.StringFixed(e.rules.PricePrecision)
}

func (e *Engine) reserve(key string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, exists := e.inflight[key]; exists {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.inflightMu.Lock()
	delete(e.inflight, key)
	e.inflightMu.Unlock()
}

// SyncOpenOrders replaces the local open-order view with a REST snapshot.
// Called at start and available to callers that suspect drift.
func (e *Engine) SyncOpenOrders(ctx context.Context) error {
	orders, err := e.venue.OpenOrders(ctx, e.rules.Symbol)
	if err != nil {
		return err
	}
	e.ordersMu.Lock()
	e.open = make(map[int64]schema.OpenOrder, len(orders))
	for _, order := range orders {
		if order.Status.Terminal() {
			continue
		}
		e.open[order.OrderID] = order
	}
	e.ordersMu.Unlock()
	return nil
}
