package runtime

import (
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// Bus is a multi-subscriber publish bus of rlmevent.Event. Every Subscribe
// call gets its own buffered channel; Publish fans out non-blockingly (a
// slow subscriber drops events rather than stalling the scheduler — the
// scheduler itself must never block on a subscriber).
//
// Grounded on tarsy/pkg/events/manager.go's ConnectionManager.Broadcast:
// snapshot subscriber handles under a lock, then send without holding it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan rlmevent.Event
	nextID      int
	closed      bool
	capacity    int
}

// NewBus creates a bus whose per-subscriber channel has the given buffer
// capacity (spec.md §6 eventBufferCapacity, default 4096).
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Bus{
		subscribers: make(map[int]chan rlmevent.Event),
		capacity:    capacity,
	}
}

// Subscribe returns a channel of future events and an unsubscribe func. The
// channel is closed when Close is called or Unsubscribe is invoked.
func (b *Bus) Subscribe() (<-chan rlmevent.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan rlmevent.Event, b.capacity)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish fans out ev to every current subscriber. A full subscriber channel
// is skipped rather than blocking the publisher.
func (b *Bus) Publish(ev rlmevent.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the bus down: no further events are delivered and every
// subscriber channel is closed. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
