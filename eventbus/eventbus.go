// Package eventbus fans session events out to live subscribers.
package eventbus

import (
	"sync"

	"github.com/holdhq/counsel/model"
)

// Bus is a per-session publish/subscribe channel for events.
type Bus interface {
	Subscribe(sessionID string) chan *model.Event
	Unsubscribe(sessionID string, ch chan *model.Event)
	Publish(sessionID string, event *model.Event)
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 64

// InMemoryBus implements Bus with buffered channels. Publish never blocks.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan *model.Event]struct{}
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string]map[chan *model.Event]struct{})}
}

// Subscribe returns a channel receiving every event published for sessionID.
func (b *InMemoryBus) Subscribe(sessionID string) chan *model.Event {
	ch := make(chan *model.Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan *model.Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch. It is safe to call more than once.
func (b *InMemoryBus) Unsubscribe(sessionID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
}

// Publish delivers event to every subscriber of sessionID. Subscribers whose
// buffer is full miss the event.
func (b *InMemoryBus) Publish(sessionID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

var _ Bus = (*InMemoryBus)(nil)
