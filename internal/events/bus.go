package events

import (
	"sync"
)

// Bus is a channel-based pub-sub event bus. Subscribers name the topics they
// want; subscribing with no topics receives every topic.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event // topic -> subscriber channels
	allSub []chan Event            // channels receiving every topic
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription to the given topics, or to all topics if
// none are given. bufSize defaults to 256 if <= 0. The returned channel is
// closed when the bus closes.
func (b *Bus) Subscribe(bufSize int, topics ...string) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	if len(topics) == 0 {
		b.allSub = append(b.allSub, ch)
		return ch
	}

	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], ch)
	}

	return ch
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for
// that subscriber rather than stalling the scheduler.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; drop rather than block
		}
	}

	for _, ch := range b.allSub {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes the bus and all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for _, channels := range b.subs {
		for _, ch := range channels {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range b.allSub {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
}
