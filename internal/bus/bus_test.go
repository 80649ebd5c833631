package bus

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cadogan/gridline/internal/schema"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub[schema.Ticker](4)
	_, a := hub.Subscribe()
	_, b := hub.Subscribe()

	hub.Publish(schema.Ticker{Symbol: "BTCUSDT", Bid: decimal.New(1, 0), Ask: decimal.New(2, 0)})

	for _, ch := range []<-chan schema.Ticker{a, b} {
		select {
		case ticker := <-ch:
			require.Equal(t, "BTCUSDT", ticker.Symbol)
		default:
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub[int](1)
	_, slow := hub.Subscribe()

	// Fill the buffer, then keep publishing; the publisher must not stall.
	for i := 0; i < 10; i++ {
		hub.Publish(i)
	}
	require.Equal(t, uint64(9), hub.Drops())

	// The subscriber still holds the first event.
	require.Equal(t, 0, <-slow)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub[int](1)
	id, ch := hub.Subscribe()
	hub.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)

	// Publishing after removal reaches nobody and drops nothing.
	hub.Publish(1)
	require.Zero(t, hub.Drops())

	// A second unsubscribe is a no-op.
	hub.Unsubscribe(id)
}

func TestHubCloseTerminatesAllSubscriptions(t *testing.T) {
	hub := NewHub[int](1)
	_, a := hub.Subscribe()
	_, b := hub.Subscribe()
	hub.Close()

	_, open := <-a
	require.False(t, open)
	_, open = <-b
	require.False(t, open)
}

func TestBusClose(t *testing.T) {
	b := New(2)
	_, tickers := b.Tickers.Subscribe()
	_, orders := b.Orders.Subscribe()
	b.Close()

	_, open := <-tickers
	require.False(t, open)
	_, open = <-orders
	require.False(t, open)
}
