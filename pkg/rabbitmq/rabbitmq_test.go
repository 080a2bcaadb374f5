package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-splitter/config"
	"video-splitter/dto"
	"video-splitter/pkg/redisqueue"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAcknowledger struct {
	acked  int
	nacked int
	requeu bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeu = requeue
	return nil
}
func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func TestEventPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &EventPublisher{channel: ch, exchange: "split_events"}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), redisqueue.Event{
		Type:     redisqueue.EventProgress,
		Queue:    "video-processing",
		JobID:    "job-1",
		Progress: 40,
		Attempts: 1,
		At:       at,
	})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "split_events", sent.exchange)
	assert.Equal(t, "split.job.progress", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, "job-1", sent.msg.MessageId)

	var msg dto.JobEventMessage
	require.NoError(t, json.Unmarshal(sent.msg.Body, &msg))
	assert.Equal(t, "progress", msg.Type)
	assert.Equal(t, "job-1", msg.JobId)
	assert.Equal(t, 40, msg.Progress)
	assert.True(t, at.Equal(msg.At))
}

func TestEventPublisher_PropagatesError(t *testing.T) {
	p := &EventPublisher{channel: &fakeChannel{err: amqp.ErrClosed}, exchange: "x"}
	err := p.Publish(context.Background(), redisqueue.Event{Type: redisqueue.EventFailed, JobID: "j"})
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func newTestConsumer(handler func(ctx context.Context, msg amqp.Delivery, deps int) error) consumer[int] {
	return consumer[int]{
		cfg:        &config.RabbitMQ{QueueName: "q", MaxRetries: 2},
		handler:    handler,
		numWorkers: 1,
	}
}

func TestConsumer_AcksOnSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(context.Context, amqp.Delivery, int) error { return nil })

	c.handle(context.Background(), 1, amqp.Delivery{Acknowledger: ack}, 0)

	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
}

func TestConsumer_DeadLettersNonRetryableWithoutRetry(t *testing.T) {
	ack := &fakeAcknowledger{}
	calls := 0
	c := newTestConsumer(func(context.Context, amqp.Delivery, int) error {
		calls++
		return errors.Join(ErrNonRetryable, errors.New("bad payload"))
	})

	c.handle(context.Background(), 1, amqp.Delivery{Acknowledger: ack}, 0)

	assert.Equal(t, 1, calls)
	assert.Zero(t, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeu)
}

func TestConsumer_RetriesTransientErrors(t *testing.T) {
	ack := &fakeAcknowledger{}
	calls := 0
	c := newTestConsumer(func(context.Context, amqp.Delivery, int) error {
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	})

	c.handle(context.Background(), 1, amqp.Delivery{Acknowledger: ack}, 0)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, ack.acked)
}

func TestDeadLetterNames(t *testing.T) {
	dlx, dlq, key := deadLetterNames("split_history_queue")
	assert.Equal(t, "split_history_queue_dlx", dlx)
	assert.Equal(t, "split_history_queue_dlq", dlq)
	assert.Equal(t, "dlq.split_history_queue", key)
}
