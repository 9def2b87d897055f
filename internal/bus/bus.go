package bus

import (
	"context"
	"sync"
)

const defaultQueueSize = 256

// MessageBus is the in-process hub between channel adapters and the gateway.
// Inbound messages go through a buffered queue consumed by one goroutine;
// events fan out to all subscribers.
type MessageBus struct {
	inbound chan IncomingMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan IncomingMessage, defaultQueueSize),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound message. Drops when the queue is full
// rather than blocking a channel adapter's receive loop.
func (b *MessageBus) PublishInbound(msg IncomingMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until a message arrives or ctx is cancelled.
// The second return is false when the context ended.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (IncomingMessage, bool) {
	select {
	case <-ctx.Done():
		return IncomingMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// Subscribe registers an event handler under an id. Re-subscribing with the
// same id replaces the previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to every subscriber synchronously.
// Handlers must be non-blocking.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
