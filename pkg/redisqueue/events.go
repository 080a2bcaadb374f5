package redisqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event is one lifecycle transition of a job.
type Event struct {
	Type     EventType
	Queue    string
	JobID    string
	Progress int
	Attempts int
	Reason   string
	Delay    time.Duration
	Data     json.RawMessage
	Result   json.RawMessage
	At       time.Time
}

// EventSink receives lifecycle events. Implementations must not block for
// long; a failing sink never fails the queue operation that emitted it.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type EventSinkFunc func(ctx context.Context, event Event) error

func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func (q *Queue) emit(ctx context.Context, event Event) {
	event.Queue = q.name
	if event.At.IsZero() {
		event.At = q.now().UTC()
	}
	for _, sink := range q.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			logger(ctx).Warn().Err(err).Str("job_id", event.JobID).Str("event", string(event.Type)).Msg("failed to publish job event")
		}
	}
}

// LogSink writes every event to the context logger.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, event Event) error {
	l := logger(ctx)
	var e *zerolog.Event
	switch event.Type {
	case EventFailed:
		e = l.Error().Str("reason", event.Reason)
	case EventStalled, EventRetrying:
		e = l.Warn().Str("reason", event.Reason).Dur("delay", event.Delay)
	case EventProgress:
		e = l.Debug()
	default:
		e = l.Info()
	}
	e.Str("queue", event.Queue).
		Str("job_id", event.JobID).
		Int("progress", event.Progress).
		Int("attempts", event.Attempts).
		Msgf("job %s", event.Type)
	return nil
}

func logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
