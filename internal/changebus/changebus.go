// Package changebus implements the in-process change event bus (spec
// §4.C7 / §6): every store mutation and consolidation run publishes an
// Event that observers can subscribe to. Delivery is at-least-once per
// subscriber and ordered in commit order per writer process, per spec
// §5; a slow subscriber is dropped from, rather than allowed to stall,
// the writer.
package changebus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType is one of the five event kinds named in spec §6.
type EventType string

const (
	Created         EventType = "Created"
	Updated         EventType = "Updated"
	Deleted         EventType = "Deleted"
	Archived        EventType = "Archived"
	ConsolidationRun EventType = "ConsolidationRun"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Type        EventType
	MemoryHash  string         // set for Created/Updated/Deleted/Archived
	Pass        string         // set for ConsolidationRun: the horizon name
	Counts      map[string]int // set for ConsolidationRun
	Status      string         // "ok" or "failed", for ConsolidationRun
	At          time.Time
}

const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// Bus is an in-process fan-out publisher. The zero value is not
// usable; construct with New.
type Bus struct {
	logger      *zap.Logger
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	forward     Forwarder
}

// Forwarder optionally ships events to an external observer (spec §6:
// "optionally forwarded to an external observer"). The NATS-backed
// implementation lives in natsforward.go; the core bus has no
// required external dependency.
type Forwarder interface {
	Forward(Event)
}

// New builds an empty bus. forward may be nil.
func New(logger *zap.Logger, forward Forwarder) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[int]*subscriber),
		forward:     forward,
	}
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			close(s.ch)
			delete(b.subscribers, id)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers event to every current subscriber, dropping it for
// (and logging a warning about) any subscriber whose buffer is full
// rather than blocking the writer — the writer's commit must not stall
// on a slow observer.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	for id, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("change bus subscriber buffer full, dropping event",
				zap.Int("subscriber_id", id), zap.String("event_type", string(event.Type)))
		}
	}
	b.mu.RUnlock()

	if b.forward != nil {
		b.forward.Forward(event)
	}
}
