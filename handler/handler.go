package handler

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"video-splitter/dto"
	"video-splitter/entities"
	"video-splitter/metrics"
	"video-splitter/pkg/rabbitmq"
	"video-splitter/pkg/redisqueue"
	"video-splitter/repository"
	"video-splitter/service"
)

// EventRecorder persists lifecycle events into the job history.
type EventRecorder interface {
	ApplyEvent(ctx context.Context, event dto.JobEventMessage) error
}

type ServiceDependencies struct {
	Pipeline service.Pipeline
	Recorder EventRecorder
}

// SplitJobHandler runs the split pipeline for one claimed queue job.
func SplitJobHandler(ctx context.Context, job *redisqueue.Job, progress redisqueue.Reporter, deps ServiceDependencies) (any, error) {
	var req entities.ResolvedRequest
	if err := job.Decode(&req); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to decode split job")
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		return nil, redisqueue.Unrecoverable(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("video_id", req.VideoId).
		Int("duration", req.Duration).
		Int("attempt", job.AttemptsMade+1).
		Msg("received split job")

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	result, err := deps.Pipeline.Run(ctx, req, progress)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	return result, nil
}

// JobEventHandler records one broker delivery of a lifecycle event.
func JobEventHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var event dto.JobEventMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job event")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("job_id", event.JobId).
		Str("event", event.Type).
		Msg("received job event")

	err := deps.Recorder.ApplyEvent(ctx, event)
	if errors.Is(err, repository.ErrInvalidJobId) {
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}
	return err
}
