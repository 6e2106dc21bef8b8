package events

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// EventType identifies what happened to a document.
type EventType string

const (
	EventDocumentInserted  EventType = "document.inserted"
	EventDocumentUpdated   EventType = "document.updated"
	EventDocumentReplaced  EventType = "document.replaced"
	EventDocumentUpserted  EventType = "document.upserted"
	EventDocumentDeleted   EventType = "document.soft_deleted"
	EventDocumentUndeleted EventType = "document.undeleted"
	EventDocumentPurged    EventType = "document.purged"
)

// TypeFor maps an operation kind to its event type.
func TypeFor(kind types.OpKind) EventType {
	switch kind {
	case types.OpInsert:
		return EventDocumentInserted
	case types.OpUpdate:
		return EventDocumentUpdated
	case types.OpReplace:
		return EventDocumentReplaced
	case types.OpUpsert:
		return EventDocumentUpserted
	case types.OpSoftDelete:
		return EventDocumentDeleted
	case types.OpUndelete:
		return EventDocumentUndeleted
	case types.OpPurge:
		return EventDocumentPurged
	}
	return EventType(kind)
}

// Event is one committed change, published after the transaction that
// produced it is durable.
type Event struct {
	Type       EventType
	Collection string
	DocID      string
	TxID       string
	Sequence   uint64
	Version    int64 // zero for purges
	Timestamp  time.Time
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans committed-change events out to subscribers. Publishing
// never blocks a commit: events queue on a buffered channel and a slow
// subscriber drops events rather than stall the distribution loop.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for distribution.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
