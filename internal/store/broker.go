package store

import "sync"

// DefaultBuffer is the per-subscriber channel buffer used by [NewBroker]
// when a non-positive size is given.
const DefaultBuffer = 100

// Broker fans published values out to subscribers.
//
// Sends are non-blocking: if a subscriber's buffer is full the value is
// dropped for that subscriber. After Close, Subscribe returns an already
// closed channel and Publish is a no-op.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	buffer      int
	closed      bool
}

// NewBroker creates a [Broker] whose subscriber channels hold buffer values.
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{
		subscribers: make(map[chan T]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker[T]) Subscribe() <-chan T {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed channels are ignored.
func (b *Broker[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subCh := range b.subscribers {
		if subCh == ch {
			delete(b.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Publish sends v to every subscriber without blocking.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is slow, drop the message
		}
	}
}

// Close closes every subscriber channel. Idempotent.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Len reports the number of active subscribers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
