package bus

import (
	"context"
	"sync"
)

// MessageBus owns the two FIFO queues connecting channels and the executor.
// Publishing never blocks; consuming blocks until a message is available or
// the context is cancelled.
type MessageBus struct {
	inbound  queue[InboundMessage]
	outbound queue[OutboundMessage]
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  newQueue[InboundMessage](),
		outbound: newQueue[OutboundMessage](),
	}
}

// PublishInbound enqueues a user message for the executor.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound.push(msg)
}

// ConsumeInbound blocks until the next inbound message arrives.
// Returns false when ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return b.inbound.pop(ctx)
}

// PublishOutbound enqueues a response for the outbound dispatcher.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound.push(msg)
}

// ConsumeOutbound blocks until the next outbound message arrives.
// Returns false when ctx is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return b.outbound.pop(ctx)
}

// InboundLen reports the current inbound backlog. Diagnostic only.
func (b *MessageBus) InboundLen() int { return b.inbound.len() }

// OutboundLen reports the current outbound backlog. Diagnostic only.
func (b *MessageBus) OutboundLen() int { return b.outbound.len() }

// queue is an unbounded FIFO. A buffered signal channel wakes one waiting
// consumer per push; items live in the slice so producers never block.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func newQueue[T any]() queue[T] {
	return queue[T]{wake: make(chan struct{}, 1)}
}

func (q *queue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue[T]) pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// More work queued: re-arm the signal for the next consumer.
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.wake:
		}
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
