package eventbus

import (
	"log"
	"sync"
	"time"
)

// Bus is an in-process pub/sub bus carrying pipeline events to observers
// such as metrics and the usage ledger. A nil *Bus drops everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// On subscribes fn to topic for payloads of type T; others are ignored.
func On[T any](b *Bus, topic Topic, fn func(T)) {
	b.Subscribe(topic, func(e Event) {
		if p, ok := e.Payload.(T); ok {
			fn(p)
		}
	})
}

// Publish calls every subscriber of topic synchronously, in registration
// order. A panicking handler is logged and skipped.
func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil {
		return
	}
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range b.snapshot(topic) {
		deliver(h, event)
	}
}

func (b *Bus) snapshot(topic Topic) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handler(nil), b.handlers[topic]...)
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[eventbus] handler for %s panicked: %v", e.Topic, r)
		}
	}()
	h(e)
}
