package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels. Slow
// subscribers drop messages rather than blocking publishers, so the
// execution path can never stall on a notification consumer. Dropped
// deliveries are counted per topic for operational visibility.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped map[Event]*atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event][]chan any),
		dropped: make(map[Event]*atomic.Int64),
	}
}

// Subscribe registers a listener for an event and returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)
	if b.dropped[e] == nil {
		b.dropped[e] = &atomic.Int64{}
	}

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// subscriber is slow; count the drop and move on
			if d := b.dropped[e]; d != nil {
				d.Add(1)
			}
		}
	}
}

// Dropped reports how many deliveries were discarded for a topic.
func (b *Bus) Dropped(e Event) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if d := b.dropped[e]; d != nil {
		return d.Load()
	}
	return 0
}
