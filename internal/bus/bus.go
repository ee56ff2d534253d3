package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/inboxsync/internal/metrics"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Delivery to each subscriber preserves publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	fn        func(Event)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if sub.fn != nil {
			sub.fn(evt)
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber is full; drop rather than block the publisher.
			metrics.BusDropped.Inc()
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
// The unsubscribe function is safe to call more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	return ch, b.add(&subscription{namespace: namespace, ch: ch})
}

// SubscribeFunc registers fn to be called synchronously on the publishing
// goroutine for every event matching namespace. Nothing is dropped. fn must
// return quickly and must not call back into the bus.
func (b *Bus) SubscribeFunc(namespace string, fn func(Event)) func() {
	return b.add(&subscription{namespace: namespace, fn: fn})
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of subscriptions whose namespace matches kind.
func (b *Bus) Subscribers(kind string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if strings.HasPrefix(kind, sub.namespace) {
			n++
		}
	}
	return n
}
