package events

import "sync"

type subscriber struct {
	id int
	ch chan any
}

// Bus fans trade-lifecycle payloads out to in-process listeners. Delivery is
// best effort: a subscriber that stops draining loses messages, never blocks
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Event][]subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event][]subscriber)}
}

// Subscribe registers a buffered listener on a topic. The returned func
// removes the listener and closes its channel; calling it twice is safe.
func (b *Bus) Subscribe(topic Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	b.nextID++
	sub := subscriber{id: b.nextID, ch: make(chan any, buffer)}
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.topics[topic]
			for i := range subs {
				if subs[i].id == sub.id {
					b.topics[topic] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
	return sub.ch, unsub
}

// Publish delivers the payload to every listener on the topic, dropping it
// for any listener whose buffer is full.
func (b *Bus) Publish(topic Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
}
