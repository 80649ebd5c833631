// Package bus provides the in-memory broadcast hub connecting the core to
// its observers. Publication never blocks: a subscriber whose buffer is full
// misses the event and a drop counter increments.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/cadogan/gridline/internal/schema"
)

// SubscriptionID uniquely identifies a hub subscription.
type SubscriptionID uint64

// Hub fans a single event type out to its subscribers.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[SubscriptionID]chan T
	buffer int
	drops  atomic.Uint64
}

// NewHub constructs a hub whose subscriber channels hold buffer events.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub[T]{subs: make(map[SubscriptionID]chan T), buffer: buffer}
}

// Subscribe registers an observer and returns its delivery channel.
func (h *Hub[T]) Subscribe() (SubscriptionID, <-chan T) {
	ch := make(chan T, h.buffer)
	h.mu.Lock()
	h.nextID++
	id := SubscriptionID(h.nextID)
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the observer and closes its channel.
func (h *Hub[T]) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers evt to every subscriber without blocking the publisher.
func (h *Hub[T]) Publish(evt T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.drops.Add(1)
		}
	}
}

// Drops reports how many events were discarded against full buffers.
func (h *Hub[T]) Drops() uint64 {
	return h.drops.Load()
}

// Close terminates every subscription.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[SubscriptionID]chan T)
	h.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Bus aggregates the hubs for every event the core emits.
type Bus struct {
	Tickers    *Hub[schema.Ticker]
	PriceState *Hub[schema.StreamStatus]
	UserState  *Hub[schema.StreamStatus]
	Balances   *Hub[map[string]schema.Balance]
	Orders     *Hub[schema.OrderUpdate]
	Wallet     *Hub[schema.WalletValuation]
}

// New constructs a bus with the given per-subscriber buffer size.
func New(buffer int) *Bus {
	return &Bus{
		Tickers:    NewHub[schema.Ticker](buffer),
		PriceState: NewHub[schema.StreamStatus](buffer),
		UserState:  NewHub[schema.StreamStatus](buffer),
		Balances:   NewHub[map[string]schema.Balance](buffer),
		Orders:     NewHub[schema.OrderUpdate](buffer),
		Wallet:     NewHub[schema.WalletValuation](buffer),
	}
}

// Close shuts down every hub.
func (b *Bus) Close() {
	b.Tickers.Close()
	b.PriceState.Close()
	b.UserState.Close()
	b.Balances.Close()
	b.Orders.Close()
	b.Wallet.Close()
}
