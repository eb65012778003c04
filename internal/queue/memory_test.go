package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/creatorsync/internal/model"
)

func TestMemoryBrokerEmptyQueue(t *testing.T) {
	b := NewMemoryBroker()
	msg, err := b.ConsumeNext(context.Background(), ScrapeOut)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemoryBrokerPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	for _, p := range []struct {
		name     string
		priority Priority
	}{
		{"a", PriorityDefault},
		{"b", PriorityHigh},
		{"c", PriorityDefault},
		{"d", PriorityHigh},
	} {
		_, err := b.Publish(ctx, ScrapeIn, map[string]string{"name": p.name}, p.priority)
		require.NoError(t, err)
	}

	var got []string
	for {
		msg, err := b.ConsumeNext(ctx, ScrapeIn)
		require.NoError(t, err)
		if msg == nil {
			break
		}
		var body map[string]string
		require.NoError(t, json.Unmarshal(msg.Body, &body))
		got = append(got, body["name"])
		require.NoError(t, b.Ack(msg))
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestMemoryBrokerNackRequeueReturnsToHead(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	first, err := b.Publish(ctx, MailNotifications, []byte(`{"n":1}`), PriorityDefault)
	require.NoError(t, err)
	_, err = b.Publish(ctx, MailNotifications, []byte(`{"n":2}`), PriorityDefault)
	require.NoError(t, err)

	msg, err := b.ConsumeNext(ctx, MailNotifications)
	require.NoError(t, err)
	assert.Equal(t, first, msg.ID)
	assert.Equal(t, 1, b.Unacked())

	require.NoError(t, b.Nack(msg, true))
	assert.Equal(t, 0, b.Unacked())
	assert.Equal(t, 2, b.Len(MailNotifications))

	again, err := b.ConsumeNext(ctx, MailNotifications)
	require.NoError(t, err)
	assert.Equal(t, first, again.ID)
	assert.True(t, again.Redelivered)
	assert.JSONEq(t, `{"n":1}`, string(again.Body))
}

func TestMemoryBrokerNackDropAndDoubleAck(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	_, err := b.Publish(ctx, ChatNotifications, []byte(`{}`), PriorityDefault)
	require.NoError(t, err)

	msg, err := b.ConsumeNext(ctx, ChatNotifications)
	require.NoError(t, err)
	require.NoError(t, b.Nack(msg, false))
	assert.Equal(t, 0, b.Len(ChatNotifications))
	assert.Error(t, b.Ack(msg))
}

func TestMemoryBrokerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewMemoryBroker()
	_, err := b.Publish(ctx, ScrapeIn, []byte(`{}`), PriorityDefault)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueForChannel(t *testing.T) {
	q, err := QueueForChannel(model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, SMSNotifications, q)

	_, err = QueueForChannel("pager")
	assert.Error(t, err)
}
