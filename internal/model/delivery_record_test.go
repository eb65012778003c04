package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceForwardOnly(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	r := &DeliveryRecord{Status: StatusSent}

	assert.True(t, r.Advance(StatusDelivered, now))
	assert.Equal(t, StatusDelivered, r.Status)
	assert.False(t, r.Advance(StatusSent, now))
	assert.False(t, r.Advance(StatusDelivered, now))
	assert.False(t, r.Advance(StatusQueued, now))
	assert.True(t, r.Advance(StatusRead, now))
	assert.Equal(t, StatusRead, r.Status)
}

func TestAdvanceBackfillsTimestamps(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	r := &DeliveryRecord{Status: StatusQueued}

	assert.True(t, r.Advance(StatusRead, now))
	assert.Equal(t, now, *r.SentAt)
	assert.Equal(t, now, *r.DeliveredAt)
	assert.Equal(t, now, *r.ReadAt)
}

func TestAdvanceKeepsExistingTimestamps(t *testing.T) {
	sent := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	now := sent.Add(time.Hour)
	r := &DeliveryRecord{Status: StatusSent, SentAt: &sent}

	assert.True(t, r.Advance(StatusDelivered, now))
	assert.Equal(t, sent, *r.SentAt)
	assert.Equal(t, now, *r.DeliveredAt)
}

func TestAdvanceFailures(t *testing.T) {
	now := time.Now()

	r := &DeliveryRecord{Status: StatusDelivered}
	assert.True(t, r.Advance(StatusUndelivered, now))
	assert.Equal(t, StatusUndelivered, r.Status)
	assert.False(t, r.Advance(StatusFailed, now))
	assert.False(t, r.Advance(StatusRead, now))
	assert.Equal(t, StatusUndelivered, r.Status)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusRejected.IsFailure())
	assert.False(t, StatusRetrying.IsFailure())
	assert.True(t, StatusRead.IsTerminal())
	assert.False(t, StatusSent.IsTerminal())
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"brand_id": float64(12), "credit_cost": "3", "name": "x", "bad": true}

	assert.Equal(t, "12", m.String("brand_id"))
	assert.Equal(t, "x", m.String("name"))
	assert.Equal(t, "", m.String("missing"))

	n, ok := m.Int("credit_cost")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = m.Int("bad")
	assert.False(t, ok)

	var nilMeta Metadata
	assert.Equal(t, "", nilMeta.String("brand_id"))
}

func TestRateLimitIdentity(t *testing.T) {
	j := &NotificationJob{Recipient: "a@b.co"}
	assert.Equal(t, "a@b.co", j.RateLimitIdentity())
	j.Metadata = Metadata{"user_id": "u-1"}
	assert.Equal(t, "u-1", j.RateLimitIdentity())
	j.Identity = "acct-9"
	assert.Equal(t, "acct-9", j.RateLimitIdentity())
}
