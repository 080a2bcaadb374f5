package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-splitter/dto"
	"video-splitter/entities"
	"video-splitter/pkg/rabbitmq"
	"video-splitter/pkg/redisqueue"
	"video-splitter/repository"
	"video-splitter/service"
)

type stubPipeline struct {
	req    entities.ResolvedRequest
	result entities.SplitResult
	err    error
}

func (s *stubPipeline) Run(_ context.Context, req entities.ResolvedRequest, _ service.Progress) (entities.SplitResult, error) {
	s.req = req
	return s.result, s.err
}

type stubReporter struct{}

func (stubReporter) Report(context.Context, int) error { return nil }

type stubRecorder struct {
	events []dto.JobEventMessage
	err    error
}

func (s *stubRecorder) ApplyEvent(_ context.Context, event dto.JobEventMessage) error {
	s.events = append(s.events, event)
	return s.err
}

func TestSplitJobHandler_RunsPipeline(t *testing.T) {
	data, err := json.Marshal(entities.ResolvedRequest{URL: "https://youtu.be/abc", Duration: 30, VideoId: "abc"})
	require.NoError(t, err)

	pipeline := &stubPipeline{result: entities.SplitResult{VideoId: "abc", Clips: []entities.Clip{{Index: 1}}}}
	result, err := SplitJobHandler(context.Background(), &redisqueue.Job{ID: "j1", Data: data}, stubReporter{}, ServiceDependencies{Pipeline: pipeline})

	require.NoError(t, err)
	assert.Equal(t, "abc", pipeline.req.VideoId)
	assert.Equal(t, 30, pipeline.req.Duration)
	assert.Equal(t, pipeline.result, result)
}

func TestSplitJobHandler_BadPayloadIsUnrecoverable(t *testing.T) {
	pipeline := &stubPipeline{}
	_, err := SplitJobHandler(context.Background(), &redisqueue.Job{ID: "j1", Data: json.RawMessage(`"nope"`)}, stubReporter{}, ServiceDependencies{Pipeline: pipeline})

	require.Error(t, err)
	assert.ErrorIs(t, err, redisqueue.ErrUnrecoverable)
	assert.Empty(t, pipeline.req.VideoId)
}

func TestSplitJobHandler_PipelineErrorIsRetryable(t *testing.T) {
	data, _ := json.Marshal(entities.ResolvedRequest{VideoId: "abc", Duration: 30})
	pipeline := &stubPipeline{err: errors.New("Failed to download video")}

	_, err := SplitJobHandler(context.Background(), &redisqueue.Job{ID: "j1", Data: data}, stubReporter{}, ServiceDependencies{Pipeline: pipeline})

	require.Error(t, err)
	assert.NotErrorIs(t, err, redisqueue.ErrUnrecoverable)
}

func TestJobEventHandler(t *testing.T) {
	body, _ := json.Marshal(dto.JobEventMessage{Type: "completed", JobId: "7b0c1c5e-6f53-4a8b-9c59-2ad1c6b0e6a1"})

	t.Run("applies event", func(t *testing.T) {
		rec := &stubRecorder{}
		err := JobEventHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Recorder: rec})
		require.NoError(t, err)
		require.Len(t, rec.events, 1)
		assert.Equal(t, "completed", rec.events[0].Type)
	})

	t.Run("malformed body is not retried", func(t *testing.T) {
		rec := &stubRecorder{}
		err := JobEventHandler(context.Background(), amqp.Delivery{Body: []byte("{")}, ServiceDependencies{Recorder: rec})
		assert.ErrorIs(t, err, rabbitmq.ErrNonRetryable)
		assert.Empty(t, rec.events)
	})

	t.Run("invalid job id is not retried", func(t *testing.T) {
		rec := &stubRecorder{err: fmt.Errorf("%w: %q", repository.ErrInvalidJobId, "x")}
		err := JobEventHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Recorder: rec})
		assert.ErrorIs(t, err, rabbitmq.ErrNonRetryable)
	})

	t.Run("storage errors are retried", func(t *testing.T) {
		rec := &stubRecorder{err: errors.New("connection refused")}
		err := JobEventHandler(context.Background(), amqp.Delivery{Body: body}, ServiceDependencies{Recorder: rec})
		require.Error(t, err)
		assert.NotErrorIs(t, err, rabbitmq.ErrNonRetryable)
	})
}
