// Package events is the in-process observer bus that decouples the fight
// core from its consumers (transport, persistence, settlement). Producers
// define their own concrete event types; consumers type-switch on them.
package events

import (
	"sync"
	"time"
)

// Kind identifies an event type on the wire and in logs.
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Subscriber receives events.
type Subscriber interface {
	OnEvent(event Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnEvent(e Event) { f(e) }

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(event Event)
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a subscriber.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Unsubscribe removes a subscriber. s must be comparable (a pointer, not a
// SubscriberFunc).
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == s {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers the event synchronously to every subscriber. Subscribers
// that do slow work should hand off to their own goroutine.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		s.OnEvent(e)
	}
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
