package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker for local development and tests.
// Messages are delivered highest priority first, FIFO within a priority.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string][]*Message
	inflight map[uint64]*Message
	nextTag  uint64
	closed   bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string][]*Message),
		inflight: make(map[uint64]*Message),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, payload any, priority Priority) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := encode(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("broker closed")
	}

	msg := &Message{ID: uuid.NewString(), Queue: queue, Body: body, Priority: priority}
	q := b.queues[queue]
	i := len(q)
	for i > 0 && q[i-1].Priority < priority {
		i--
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = msg
	b.queues[queue] = q

	return msg.ID, nil
}

func (b *MemoryBroker) ConsumeNext(ctx context.Context, queue string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}

	q := b.queues[queue]
	if len(q) == 0 {
		return nil, nil
	}
	msg := q[0]
	b.queues[queue] = q[1:]

	b.nextTag++
	msg.tag = b.nextTag
	b.inflight[msg.tag] = msg

	out := *msg
	return &out, nil
}

func (b *MemoryBroker) Ack(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[msg.tag]; !ok {
		return fmt.Errorf("unknown delivery tag %d", msg.tag)
	}
	delete(b.inflight, msg.tag)
	return nil
}

// Nack with requeue puts the message back at the head of its queue.
func (b *MemoryBroker) Nack(msg *Message, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.inflight[msg.tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", msg.tag)
	}
	delete(b.inflight, msg.tag)

	if requeue {
		m.Redelivered = true
		b.queues[m.Queue] = append([]*Message{m}, b.queues[m.Queue]...)
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len returns the number of ready messages on queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Unacked returns the number of consumed messages not yet acked or nacked.
func (b *MemoryBroker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

var _ Broker = (*MemoryBroker)(nil)
