package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// AMQPBroker is a Broker backed by a single AMQP connection and channel.
type AMQPBroker struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	ttl  time.Duration
}

// NewAMQPBroker dials url, sets prefetch to one and declares every queue as
// durable with priority support.
func NewAMQPBroker(url string, ttl time.Duration, queues ...string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	for _, name := range queues {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-max-priority": int32(maxPriority)},
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	return &AMQPBroker{conn: conn, ch: ch, ttl: ttl}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, queue string, payload any, priority Priority) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := encode(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	id := uuid.NewString()
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(priority),
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if b.ttl > 0 {
		pub.Expiration = strconv.FormatInt(b.ttl.Milliseconds(), 10)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.Publish("", queue, false, false, pub); err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return id, nil
}

func (b *AMQPBroker) ConsumeNext(ctx context.Context, queue string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	d, ok, err := b.ch.Get(queue, false)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", queue, err)
	}
	if !ok {
		return nil, nil
	}

	return &Message{
		ID:          d.MessageId,
		Queue:       queue,
		Body:        d.Body,
		Priority:    Priority(d.Priority),
		Redelivered: d.Redelivered,
		tag:         d.DeliveryTag,
	}, nil
}

func (b *AMQPBroker) Ack(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.Ack(msg.tag, false)
}

func (b *AMQPBroker) Nack(msg *Message, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.Nack(msg.tag, false, requeue)
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

var _ Broker = (*AMQPBroker)(nil)
