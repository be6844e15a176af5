package bus

import (
	"sync"
	"time"
)

// EventType identifies the kind of a bus event.
type EventType string

const (
	EventScanProgress     EventType = "scan_progress"
	EventScanComplete     EventType = "scan_complete"
	EventEncodingStart    EventType = "encoding_start"
	EventEncodingProgress EventType = "encoding_progress"
	EventEncodingComplete EventType = "encoding_complete"
)

// Event is one broadcast message. Data is a JSON-serializable payload
// owned by the publisher; subscribers must not mutate it.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Bus fans events out to subscribers. Publishing never blocks: subscribers
// with a full channel miss intermediate events.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel that receives published events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()

	close(ch)
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(typ EventType, data any) {
	event := Event{Type: typ, Time: time.Now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
