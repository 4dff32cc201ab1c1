package broker

import (
	"context"
	"sync"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
)

type memMessage struct {
	env     events.Envelope
	attempt int
}

// MemoryBroker is a single-process Broker. The queue survives Disconnect and
// reconnect so it behaves like a durable queue for development and tests.
type MemoryBroker struct {
	bindings []string

	mu        sync.Mutex
	pending   []memMessage
	connected bool
	closed    bool
	lost      chan struct{}

	signal chan struct{}
	done   chan struct{}
}

func NewMemoryBroker(bindings []string) *MemoryBroker {
	return &MemoryBroker{
		bindings: bindings,
		lost:     make(chan struct{}),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (b *MemoryBroker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !b.connected {
		b.connected = true
		b.lost = make(chan struct{})
	}
	return nil
}

// Disconnect simulates the connection dropping underneath a running consumer.
func (b *MemoryBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		b.connected = false
		close(b.lost)
	}
}

// Publish enqueues env when its routing key matches a binding. Unroutable
// envelopes are discarded by the exchange, as on a real topic exchange.
func (b *MemoryBroker) Publish(ctx context.Context, env events.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if !events.MatchAny(b.bindings, env.RoutingKey) {
		b.mu.Unlock()
		return nil
	}
	b.pending = append(b.pending, memMessage{env: env})
	b.mu.Unlock()

	b.notify()
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	lost := b.lost
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			return ErrConnectionLost
		case <-b.done:
			return ErrClosed
		default:
		}

		m, ok := b.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-lost:
				return ErrConnectionLost
			case <-b.done:
				return ErrClosed
			case <-b.signal:
			}
			continue
		}

		m.attempt++
		msg := m
		d := NewDelivery(m.env.ID, m.env.RoutingKey, m.env.Body, m.attempt, func(ack, requeue bool) error {
			if !ack && requeue {
				b.requeue(msg)
			}
			return nil
		})
		h(ctx, d)
		if !d.Settled() {
			b.requeue(msg)
		}
	}
}

// Len reports how many envelopes wait in the queue.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *MemoryBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.connected {
		b.connected = false
		close(b.lost)
	}
	close(b.done)
	return nil
}

func (b *MemoryBroker) next() (memMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return memMessage{}, false
	}
	m := b.pending[0]
	b.pending = b.pending[1:]
	return m, true
}

// requeue puts m back at the head of the queue.
func (b *MemoryBroker) requeue(m memMessage) {
	b.mu.Lock()
	b.pending = append([]memMessage{m}, b.pending...)
	b.mu.Unlock()
	b.notify()
}

func (b *MemoryBroker) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}
