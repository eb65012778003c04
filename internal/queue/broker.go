package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unclebandit/creatorsync/internal/model"
)

const (
	MailNotifications = "mail_notifications"
	ChatNotifications = "chat_notifications"
	SMSNotifications  = "sms_notifications"
	// ScrapeIn carries scrape requests to the collector.
	ScrapeIn = "scrape_in"
	// ScrapeOut carries completion events back from the collector.
	ScrapeOut = "scrape_out"
)

// AllQueues is every queue this service declares.
var AllQueues = []string{MailNotifications, ChatNotifications, SMSNotifications, ScrapeIn, ScrapeOut}

type Priority uint8

const (
	PriorityDefault Priority = 1
	PriorityHigh    Priority = 9

	maxPriority = 10
)

// Message is a single consumed delivery. It must be acked or nacked exactly
// once through the broker it came from.
type Message struct {
	ID          string
	Queue       string
	Body        []byte
	Priority    Priority
	Redelivered bool

	tag uint64
}

// Broker publishes and consumes durable, priority-aware messages.
type Broker interface {
	// Publish encodes payload as JSON and returns the generated message id.
	Publish(ctx context.Context, queue string, payload any, priority Priority) (string, error)
	// ConsumeNext takes one message without blocking. It returns nil, nil
	// when the queue is empty.
	ConsumeNext(ctx context.Context, queue string) (*Message, error)
	Ack(msg *Message) error
	Nack(msg *Message, requeue bool) error
	Close() error
}

// QueueForChannel maps a delivery channel to its notification queue.
func QueueForChannel(ch model.Channel) (string, error) {
	switch ch {
	case model.ChannelMail:
		return MailNotifications, nil
	case model.ChannelChat:
		return ChatNotifications, nil
	case model.ChannelSMS:
		return SMSNotifications, nil
	default:
		return "", fmt.Errorf("unknown channel %q", ch)
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
