// Package journal persists order lifecycle events to Postgres. It is an
// audit trail, not a correctness-critical store: failures are logged and the
// engine continues.
package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

const orderEventInsertSQL = `
INSERT INTO order_events (
    order_id,
    client_order_id,
    symbol,
    side,
    status,
    order_type,
    time_in_force,
    price,
    orig_qty,
    cum_qty,
    last_qty,
    last_price,
    event_time,
    recorded_at
)
VALUES (
    @order_id,
    @client_order_id,
    @symbol,
    @side,
    @status,
    @order_type,
    @time_in_force,
    @price,
    @orig_qty,
    @cum_qty,
    @last_qty,
    @last_price,
    @event_time,
    NOW()
);
`

// Execer is the single pgx capability the journal needs; *pgxpool.Pool
// satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal records order updates into the order_events table.
type Journal struct {
	db Execer
}

// New constructs a journal over an existing connection pool.
func New(db Execer) *Journal {
	return &Journal{db: db}
}

// Connect opens a pgx pool for dsn and wraps it in a journal.
func Connect(ctx context.Context, dsn string) (*Journal, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping journal database: %w", err)
	}
	return New(pool), pool, nil
}

// Record inserts one order update.
func (j *Journal) Record(ctx context.Context, update schema.OrderUpdate) error {
	args := pgx.NamedArgs{
		"order_id":        update.OrderID,
		"client_order_id": update.ClientOrderID,
		"symbol":          update.Symbol,
		"side":            string(update.Side),
		"status":          string(update.Status),
		"order_type":      update.OrderType,
		"time_in_force":   update.TimeInForce,
		"price":           update.Price.String(),
		"orig_qty":        update.OrigQty.String(),
		"cum_qty":         update.CumQty.String(),
		"last_qty":        update.LastQty.String(),
		"last_price":      update.LastPrice.String(),
		"event_time":      update.EventTime,
	}
	if _, err := j.db.Exec(ctx, orderEventInsertSQL, args); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// Consume drains order updates from the channel until it closes or the
// context ends, recording each one. Insert failures never stop the loop.
func (j *Journal) Consume(ctx context.Context, updates <-chan schema.OrderUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := j.Record(ctx, update); err != nil {
				observability.Log().Error("journal insert failed",
					observability.F("order_id", update.OrderID),
					observability.F("err", err))
			}
		}
	}
}
