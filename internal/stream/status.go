// Package stream implements the public price and private user-data stream
// state machines.
package stream

import (
	"sync"

	"github.com/cadogan/gridline/internal/bus"
	"github.com/cadogan/gridline/internal/schema"
)

// statusPublisher owns a stream's status record and broadcasts an immutable
// snapshot on every transition.
type statusPublisher struct {
	mu     sync.Mutex
	status schema.StreamStatus
	hub    *bus.Hub[schema.StreamStatus]
}

func newStatusPublisher(hub *bus.Hub[schema.StreamStatus], endpoint, streamName string) *statusPublisher {
	return &statusPublisher{
		status: schema.StreamStatus{
			State:      schema.StreamStopped,
			Endpoint:   endpoint,
			StreamName: streamName,
		},
		hub: hub,
	}
}

// update applies fn to the status under the lock and broadcasts the result.
func (p *statusPublisher) update(fn func(*schema.StreamStatus)) schema.StreamStatus {
	p.mu.Lock()
	fn(&p.status)
	snapshot := p.status
	p.mu.Unlock()
	if p.hub != nil {
		p.hub.Publish(snapshot)
	}
	return snapshot
}

// current returns the latest snapshot without publishing.
func (p *statusPublisher) current() schema.StreamStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
