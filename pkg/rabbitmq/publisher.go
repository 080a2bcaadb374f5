package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"video-splitter/dto"
	"video-splitter/pkg/redisqueue"
)

const RoutingKeyPrefix = "split.job."

const publishTimeout = 2 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EventPublisher forwards queue lifecycle events to a topic exchange under
// split.job.<type>. It is safe for concurrent use.
type EventPublisher struct {
	mu       sync.Mutex
	channel  channel
	exchange string
}

func NewEventPublisher(conn *amqp.Connection, exchange, kind string) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &EventPublisher{channel: ch, exchange: exchange}, nil
}

func RoutingKey(t redisqueue.EventType) string {
	return RoutingKeyPrefix + string(t)
}

func EventMessage(event redisqueue.Event) dto.JobEventMessage {
	return dto.JobEventMessage{
		Type:     string(event.Type),
		JobId:    event.JobID,
		Queue:    event.Queue,
		Progress: event.Progress,
		Attempts: event.Attempts,
		Reason:   event.Reason,
		Data:     event.Data,
		Result:   event.Result,
		At:       event.At,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event redisqueue.Event) error {
	body, err := json.Marshal(EventMessage(event))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(event.Type),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.JobID,
			Type:         string(event.Type),
			Timestamp:    event.At,
		},
	)
}

func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.channel.(*amqp.Channel); ok {
		return c.Close()
	}
	return nil
}
