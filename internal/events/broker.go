package events

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Kinds published by the resolver.
const (
	KindAdmitted  = "admitted"
	KindCompleted = "completed"
	KindFailed    = "failed"
)

// ErrClosed is returned by Subscribe once the broker has been closed.
var ErrClosed = errors.New("event broker closed")

// Event is one extraction lifecycle notification sent over SSE.
type Event struct {
	Kind string
	Data json.RawMessage
}

// NewEvent marshals payload into an Event. A payload that cannot be
// marshalled becomes a JSON null.
func NewEvent(kind string, payload any) Event {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte("null")
	}
	return Event{Kind: kind, Data: b}
}

// Broker fans out events to every subscribed stream.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	closed      bool
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a stream and returns its id and receive channel.
// After Close it returns ErrClosed.
func (b *Broker) Subscribe() (int64, <-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, ErrClosed
	}
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.subscribers[id] = ch
	return id, ch, nil
}

// Unsubscribe removes a stream and closes its channel. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks. Subscribers with a full buffer miss the event.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close unsubscribes every stream, ending their handlers, and refuses new
// subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
