package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"video-splitter/pkg/redisqueue"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type QueueCounter interface {
	Counts(ctx context.Context) (redisqueue.Counts, error)
}

type HealthReport struct {
	Healthy     bool
	Redis       bool
	Queue       bool
	QueueCounts *redisqueue.Counts
	Uptime      time.Duration
	Timestamp   time.Time
}

type Health interface {
	Check(ctx context.Context) HealthReport
}

type health struct {
	store   Pinger
	queue   QueueCounter
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// Check never returns an error; a probe that fails or times out marks its
// service unhealthy.
func (h *health) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Uptime:    h.now().Sub(h.started),
		Timestamp: h.now().UTC(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.store.Ping(pingCtx)
	cancel()
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("redis health check failed")
	} else {
		report.Redis = true
	}

	countCtx, cancel := context.WithTimeout(ctx, h.timeout)
	counts, err := h.queue.Counts(countCtx)
	cancel()
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("queue health check failed")
	} else {
		report.Queue = true
		report.QueueCounts = &counts
	}

	report.Healthy = report.Redis && report.Queue
	return report
}

func NewHealth(store Pinger, queue QueueCounter, timeout time.Duration) Health {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &health{
		store:   store,
		queue:   queue,
		timeout: timeout,
		started: time.Now(),
		now:     time.Now,
	}
}
