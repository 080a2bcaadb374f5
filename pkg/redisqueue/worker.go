package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reporter lets a handler publish progress for the job it is running.
type Reporter interface {
	Report(ctx context.Context, percent int) error
}

type Handler[T any] func(ctx context.Context, job *Job, progress Reporter, dependencies T) (any, error)

type Worker[T any] interface {
	Run(ctx context.Context, dependencies T) error
}

type worker[T any] struct {
	queue        *Queue
	handler      Handler[T]
	numWorkers   int
	pollInterval time.Duration
}

func (w worker[T]) Run(ctx context.Context, dependencies T) error {
	logger(ctx).Info().
		Str("queue", w.queue.Name()).
		Int("workers", w.numWorkers).
		Dur("lock_duration", w.queue.opts.LockDuration).
		Msg("worker pool started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.maintain(ctx)
	}()

	for i := 1; i <= w.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			w.loop(ctx, workerId, dependencies)
		}(i)
	}

	<-ctx.Done()
	logger(ctx).Info().Str("queue", w.queue.Name()).Msg("waiting for in-flight jobs")
	wg.Wait()
	return ctx.Err()
}

func (w worker[T]) loop(ctx context.Context, workerId int, dependencies T) {
	for {
		if ctx.Err() != nil {
			return
		}

		token := uuid.NewString()
		job, err := w.queue.Claim(ctx, token)
		if err != nil {
			if !errors.Is(err, ErrNoJob) && ctx.Err() == nil {
				logger(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to claim job")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, workerId, job, token, dependencies)
	}
}

// process runs one claimed job to completion. Shutdown does not interrupt a
// running job; only losing the lease does.
func (w worker[T]) process(ctx context.Context, workerId int, job *Job, token string, dependencies T) {
	l := logger(ctx).With().Str("job_id", job.ID).Int("worker_id", workerId).Logger()
	jobCtx, cancel := context.WithCancel(l.WithContext(context.WithoutCancel(ctx)))
	defer cancel()

	stop := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeat(jobCtx, cancel, job.ID, token, stop)
	}()

	result, err := w.handle(jobCtx, job, progressReporter{queue: w.queue, id: job.ID, token: token}, dependencies)
	close(stop)
	hb.Wait()

	finishCtx := context.WithoutCancel(jobCtx)
	if err != nil {
		var failed bool
		var failErr error
		if errors.Is(err, ErrUnrecoverable) {
			failed, failErr = true, w.queue.Discard(finishCtx, job.ID, token, err.Error())
		} else {
			failed, failErr = w.queue.Fail(finishCtx, job.ID, token, err.Error())
		}
		switch {
		case errors.Is(failErr, ErrLockLost):
			l.Warn().Err(err).Msg("job lock lost before failure could be recorded")
		case failErr != nil:
			l.Error().Err(failErr).Msg("failed to record job failure")
		case failed:
			l.Error().Err(err).Msg("job failed, no attempts left")
		default:
			l.Warn().Err(err).Msg("job failed, retry scheduled")
		}
		return
	}

	if err := w.queue.Complete(finishCtx, job.ID, token, result); err != nil {
		if errors.Is(err, ErrLockLost) {
			l.Warn().Msg("job lock lost before completion could be recorded")
			return
		}
		l.Error().Err(err).Msg("failed to complete job")
	}
}

func (w worker[T]) handle(ctx context.Context, job *Job, progress Reporter, dependencies T) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job, progress, dependencies)
}

func (w worker[T]) heartbeat(ctx context.Context, cancel context.CancelFunc, id, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(w.queue.opts.LockDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.ExtendLock(ctx, id, token)
			if errors.Is(err, ErrLockLost) {
				logger(ctx).Warn().Msg("job lock lost, abandoning job")
				cancel()
				return
			}
			if err != nil {
				logger(ctx).Error().Err(err).Msg("failed to extend job lock")
			}
		}
	}
}

// maintain recovers stalled jobs and promotes due retries on a fixed interval.
func (w worker[T]) maintain(ctx context.Context) {
	interval := w.queue.opts.StalledCheck
	if interval <= 0 {
		interval = w.queue.opts.LockDuration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		requeued, failed, err := w.queue.CheckStalled(ctx)
		if err != nil && ctx.Err() == nil {
			logger(ctx).Error().Err(err).Msg("stalled job check failed")
		}
		if len(requeued)+len(failed) > 0 {
			logger(ctx).Warn().Strs("requeued", requeued).Strs("failed", failed).Msg("recovered stalled jobs")
		}
		if _, err := w.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
			logger(ctx).Error().Err(err).Msg("failed to promote delayed jobs")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type progressReporter struct {
	queue *Queue
	id    string
	token string
}

func (p progressReporter) Report(ctx context.Context, percent int) error {
	_, err := p.queue.UpdateProgress(ctx, p.id, p.token, percent)
	return err
}

func NewWorker[T any](queue *Queue, numWorkers int, pollInterval time.Duration, handler Handler[T]) Worker[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &worker[T]{
		queue:        queue,
		handler:      handler,
		numWorkers:   numWorkers,
		pollInterval: pollInterval,
	}
}
