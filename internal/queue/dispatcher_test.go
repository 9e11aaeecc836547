package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/pkg/models"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*message.Message
	err       error
	block     chan struct{}
}

func (f *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, messages...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.App.DefaultGroup = "group@g.us"
	cfg.App.Queue.SendTopic = "send-messages"
	cfg.App.Queue.SendAttempts = 3
	cfg.App.Queue.EnqueueTimeoutSeconds = 5
	cfg.App.Queue.DedupTTLMinutes = 60
	return cfg
}

func newTestDispatcher(pub message.Publisher) *Dispatcher {
	return New(pub, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnqueueFillsDefaults(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub)

	req := &models.SendRequest{Content: "oi"}
	require.NoError(t, d.Enqueue(context.Background(), req, Options{}))

	require.Equal(t, 1, pub.count())
	msg := pub.published[0]

	sent, err := models.UnmarshalSendRequest(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "group@g.us", sent.GroupID)
	assert.Equal(t, models.KindText, sent.Type)
	assert.Equal(t, "3", msg.Metadata.Get(MetaAttempts))
	assert.Empty(t, msg.Metadata.Get(MetaPriority))
	assert.Empty(t, msg.Metadata.Get(MetaDelayMs))
}

func TestEnqueueOptionsMetadata(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub)

	opts := Options{
		Attempts:       5,
		Priority:       2,
		Delay:          1500 * time.Millisecond,
		IdempotencyKey: "msg1-7",
	}
	require.NoError(t, d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, opts))

	require.Equal(t, 1, pub.count())
	md := pub.published[0].Metadata
	assert.Equal(t, "5", md.Get(MetaAttempts))
	assert.Equal(t, "2", md.Get(MetaPriority))
	assert.Equal(t, "1500", md.Get(MetaDelayMs))
	assert.Equal(t, "msg1-7", md.Get(MetaIdempotencyKey))
}

func TestEnqueueIdempotency(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub)

	for i := 0; i < 5; i++ {
		err := d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "dup"})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, pub.count(), "duplicate keys must produce exactly one queue entry")
}

func TestEnqueueDistinctKeys(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub)

	for i := 0; i < 3; i++ {
		err := d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{
			IdempotencyKey: "key-" + strconv.Itoa(i),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, pub.count())
}

func TestEnqueueDedupTTLExpiry(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub)

	base := time.Now()
	d.now = func() time.Time { return base }
	require.NoError(t, d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "k"}))

	// Same key inside the window is suppressed
	d.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "k"}))
	assert.Equal(t, 1, pub.count())

	// After the TTL the key may fire again
	d.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "k"}))
	assert.Equal(t, 2, pub.count())
}

func TestEnqueueTimeout(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	defer close(pub.block)

	d := newTestDispatcher(pub)
	d.timeout = 50 * time.Millisecond

	err := d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	// The key was not marked seen, so a retry is allowed once the broker
	// recovers
	pub2 := &fakePublisher{}
	d.publisher = pub2
	require.NoError(t, d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{IdempotencyKey: "slow"}))
	assert.Equal(t, 1, pub2.count())
}

func TestEnqueuePublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := newTestDispatcher(pub)

	err := d.Enqueue(context.Background(), &models.SendRequest{Content: "oi"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestEnqueueContextCancelled(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	defer close(pub.block)

	d := newTestDispatcher(pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Enqueue(ctx, &models.SendRequest{Content: "oi"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}
