package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryBroker implements Broker in-process with the same semantics as the
// AMQP topology: one main queue, one dead-letter queue, rejects land in the
// DLQ. It backs QUEUE_DRIVER=memory (single-process dev runs, where
// durability is not needed) and the package tests. Depth and DeadMessages
// expose queue state for inspection.
type MemoryBroker struct {
	mu     sync.Mutex
	main   chan *memDelivery
	dead   []Message
	closed bool
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryBroker{
		main: make(chan *memDelivery, capacity),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish: broker closed")
	}
	select {
	case b.main <- &memDelivery{msg: msg, broker: b}:
		return nil
	default:
		return fmt.Errorf("publish: queue full")
	}
}

func (b *MemoryBroker) PublishDead(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish dead: broker closed")
	}
	b.dead = append(b.dead, msg)
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-b.main:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(d)
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.main)
	}
	return nil
}

func (b *MemoryBroker) requeue(d *memDelivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.main <- d:
	default:
		// The queue refilled while this delivery was mid-handoff. A real
		// broker would redeliver; dropping is a dev-broker limitation.
		slog.Warn("requeue dropped, queue full", "messageId", d.msg.MessageID)
	}
}

// Depth reports how many messages sit unconsumed in the main queue.
func (b *MemoryBroker) Depth() int {
	return len(b.main)
}

// DeadMessages returns a snapshot of the dead-letter queue.
func (b *MemoryBroker) DeadMessages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.dead))
	copy(out, b.dead)
	return out
}

type memDelivery struct {
	msg    Message
	broker *MemoryBroker
}

func (d *memDelivery) MessageID() string  { return d.msg.MessageID }
func (d *memDelivery) RoutingKey() string { return d.msg.RoutingKey }
func (d *memDelivery) Body() []byte       { return d.msg.Body }
func (d *memDelivery) RetryCount() int    { return d.msg.RetryCount }

func (d *memDelivery) Ack() error { return nil }

func (d *memDelivery) Reject() error {
	return d.broker.PublishDead(context.Background(), d.msg)
}
