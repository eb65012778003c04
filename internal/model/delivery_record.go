// internal/model/delivery_record.go
package model

import (
	"strconv"
	"time"
)

type Channel string

const (
	ChannelMail Channel = "mail"
	ChannelChat Channel = "chat"
	ChannelSMS  Channel = "sms"
)

type DeliveryStatus string

const (
	StatusQueued      DeliveryStatus = "queued"
	StatusRetrying    DeliveryStatus = "retrying"
	StatusSent        DeliveryStatus = "sent"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusRead        DeliveryStatus = "read"
	StatusFailed      DeliveryStatus = "failed"
	StatusUndelivered DeliveryStatus = "undelivered"
	StatusRejected    DeliveryStatus = "rejected"
)

// IsFailure reports whether the status ends the record unsuccessfully.
func (s DeliveryStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusUndelivered || s == StatusRejected
}

func (s DeliveryStatus) IsTerminal() bool {
	return s.IsFailure() || s == StatusDelivered || s == StatusRead
}

// rank orders the forward path queued -> sent -> delivered -> read.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

type DeliveryRecord struct {
	MessageID         string         `db:"message_id" json:"message_id"`
	Channel           Channel        `db:"channel" json:"channel"`
	Recipient         string         `db:"recipient" json:"recipient"`
	Template          string         `db:"template" json:"template,omitempty"`
	Status            DeliveryStatus `db:"status" json:"status"`
	Provider          *string        `db:"provider" json:"provider,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	RetryCount        int            `db:"retry_count" json:"retry_count"`
	ErrorLog          *string        `db:"error_log" json:"error_log,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	SentAt            *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time     `db:"read_at" json:"read_at,omitempty"`
	Metadata          Metadata       `db:"metadata" json:"metadata,omitempty"`
}

// Advance applies a provider-reported status to the record. Forward moves
// back-fill any unset earlier timestamps with now; lower or equal ranks are
// ignored. A failure status applies from any non-failure state. It returns
// whether the record changed.
func (r *DeliveryRecord) Advance(status DeliveryStatus, now time.Time) bool {
	if status.IsFailure() {
		if r.Status.IsFailure() {
			return false
		}
		r.Status = status
		return true
	}
	if r.Status.IsFailure() || status.rank() <= r.Status.rank() {
		return false
	}

	r.Status = status
	switch status {
	case StatusRead:
		setIfNil(&r.ReadAt, now)
		fallthrough
	case StatusDelivered:
		setIfNil(&r.DeliveredAt, now)
		fallthrough
	case StatusSent:
		setIfNil(&r.SentAt, now)
	}
	return true
}

func setIfNil(dst **time.Time, now time.Time) {
	if *dst == nil {
		t := now
		*dst = &t
	}
}

// Metadata is the opaque key/value map carried from enqueue to reconciliation.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Int returns the integer value stored under key, accepting JSON numbers and
// numeric strings.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// CreditCharge is deducted from a brand's balance when a credit-gated send
// is accepted by the transport.
type CreditCharge struct {
	BrandID string
	Amount  int
}
