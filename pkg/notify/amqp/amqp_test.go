package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/store/record"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records publishes and serves deliveries from a Go channel.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	durable    []bool
	args       []amqp.Table
	published  []amqp.Publishing
	deliveries chan amqp.Delivery
	prefetch   int
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	f.durable = append(f.durable, durable)
	f.args = append(f.args, args)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Close() error { return nil }

// fakeAcknowledger records how each delivery was settled.
type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	settled  chan struct{}
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan struct{}, 8)}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	return a.Reject(tag, false)
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	a.rejected = append(a.rejected, tag)
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *fakeAcknowledger) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.settled:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was never settled")
	}
}

func testEvent() notify.Event {
	rec := &record.FileRecord{ID: "f1", OwnerID: "u1", Name: "a.txt"}
	return notify.NewShareEvent(rec, "u2", record.PermissionRead, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestPublisher_Publish(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dittoshare.notifications"}, ch.declared)

	require.NoError(t, p.Publish(context.Background(), testEvent()))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, amqp.Transient, msg.DeliveryMode)
	assert.Equal(t, "10000", msg.Expiration)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, string(notify.KindShared), msg.Type)

	var got notify.Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, testEvent(), got)
}

func TestPublisher_EventsAreTransient(t *testing.T) {
	tests := []struct {
		name       string
		ttl        time.Duration
		expiration string
		queueTTL   int64
	}{
		{name: "default ttl", expiration: "10000", queueTTL: 10000},
		{name: "configured ttl", ttl: 2500 * time.Millisecond, expiration: "2500", queueTTL: 2500},
		{name: "sub-millisecond ttl rounds up", ttl: time.Microsecond, expiration: "1", queueTTL: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			p, err := NewPublisher(ch, Config{MessageTTL: tt.ttl})
			require.NoError(t, err)

			rec := &record.FileRecord{ID: "f1", OwnerID: "u1", Name: "a.txt"}
			revoke := notify.NewRevokeEvent(rec, "u2", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
			require.NoError(t, p.Publish(context.Background(), revoke))

			require.Len(t, ch.durable, 1)
			assert.False(t, ch.durable[0])
			assert.Equal(t, tt.queueTTL, ch.args[0]["x-message-ttl"])

			require.Len(t, ch.published, 1)
			assert.Equal(t, amqp.Transient, ch.published[0].DeliveryMode)
			assert.Equal(t, tt.expiration, ch.published[0].Expiration)
		})
	}
}

func TestConsumer_DeclaresSameQueueAsPublisher(t *testing.T) {
	ch := newFakeChannel()
	cfg := Config{MessageTTL: 3 * time.Second}

	_, err := NewPublisher(ch, cfg)
	require.NoError(t, err)
	_, err = NewConsumer(ch, cfg, notify.Noop{})
	require.NoError(t, err)

	require.Len(t, ch.args, 2)
	assert.Equal(t, ch.durable[0], ch.durable[1])
	assert.Equal(t, ch.args[0], ch.args[1])
}

func TestPublisher_Errors(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{Queue: "custom"})
	require.NoError(t, err)

	assert.Error(t, p.Publish(context.Background(), notify.Event{Kind: notify.KindRevoked}))
	assert.Empty(t, ch.published)

	ch.publishErr = errors.New("channel closed")
	assert.Error(t, p.Publish(context.Background(), testEvent()))
}

func TestConsumer_DeliversAndAcks(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()

	var (
		mu  sync.Mutex
		got []notify.Event
	)
	sink := notify.PublisherFunc(func(_ context.Context, ev notify.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})

	c, err := NewConsumer(ch, Config{Prefetch: 4}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	body, err := json.Marshal(testEvent())
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
	ack.wait(t)
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("not json")}
	ack.wait(t)
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"kind":"fileShared"}`)}
	ack.wait(t)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].TargetIdentity)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.rejected)
	assert.Equal(t, 4, ch.prefetch)
}

func TestConsumer_SinkErrorStillAcks(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()

	sink := notify.PublisherFunc(func(context.Context, notify.Event) error {
		return errors.New("no connections")
	})

	c, err := NewConsumer(ch, Config{}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	body, err := json.Marshal(testEvent())
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: body}
	ack.wait(t)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Equal(t, []uint64{7}, ack.acked)
}

func TestConsumer_ClosedDeliveries(t *testing.T) {
	ch := newFakeChannel()
	c, err := NewConsumer(ch, Config{}, notify.Noop{})
	require.NoError(t, err)

	close(ch.deliveries)
	assert.Error(t, c.Run(context.Background()))
}
