package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic string
	key   string
	value interface{}
	ctxOK bool
	err   error
}

func (c *capturePublisher) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	c.topic, c.key, c.value = topic, key, v
	c.ctxOK = ctx.Err() == nil
	return c.err
}

func TestKafkaNotifierPublishesKeyedByUser(t *testing.T) {
	pub := &capturePublisher{}
	n := NewKafkaNotifier(pub, "outreach.notifications")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	n.Notify(context.Background(), "u1", "Email sent to: a@x.test")

	assert.Equal(t, "outreach.notifications", pub.topic)
	assert.Equal(t, "u1", pub.key)
	require.IsType(t, Notification{}, pub.value)
	assert.Equal(t, Notification{UserID: "u1", Message: "Email sent to: a@x.test", Timestamp: fixed}, pub.value)
}

func TestKafkaNotifierIgnoresCallerCancellation(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	n := NewKafkaNotifier(pub, "t")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() { n.Notify(ctx, "u1", "hello") })
	assert.True(t, pub.ctxOK)
}
