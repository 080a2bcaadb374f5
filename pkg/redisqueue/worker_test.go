package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerDeps struct {
	suffix string
}

func runWorker(t *testing.T, q *Queue, workers int, handler Handler[workerDeps]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewWorker(q, workers, 10*time.Millisecond, handler).Run(ctx, workerDeps{suffix: "-done"})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
}

func waitForState(t *testing.T, q *Queue, id string, want State) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := q.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestWorker_CompletesJobs(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultOptions())

	runWorker(t, q, 2, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		var p payload
		if err := job.Decode(&p); err != nil {
			return nil, err
		}
		if err := progress.Report(ctx, 40); err != nil {
			return nil, err
		}
		return map[string]string{"url": p.URL + deps.suffix}, nil
	})

	_, err := q.Add(context.Background(), "job-1", payload{URL: "video"}, AddOptions{})
	require.NoError(t, err)

	job := waitForState(t, q, "job-1", StateCompleted)
	assert.Equal(t, 40, job.Progress)

	var result map[string]string
	require.NoError(t, job.DecodeResult(&result))
	assert.Equal(t, "video-done", result["url"])
}

func TestWorker_FailsJobWithoutAttemptsLeft(t *testing.T) {
	opts := DefaultOptions()
	opts.Attempts = 1
	q, _, _ := newTestQueue(t, opts)

	runWorker(t, q, 2, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		return nil, errors.New("video unavailable")
	})

	_, err := q.Add(context.Background(), "job-1", payload{}, AddOptions{})
	require.NoError(t, err)

	job := waitForState(t, q, "job-1", StateFailed)
	assert.Equal(t, "video unavailable", job.FailedReason)
	assert.Equal(t, 1, job.AttemptsMade)
}

func TestWorker_RecoversFromPanics(t *testing.T) {
	opts := DefaultOptions()
	opts.Attempts = 1
	q, _, _ := newTestQueue(t, opts)

	runWorker(t, q, 2, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		panic("nil clip list")
	})

	_, err := q.Add(context.Background(), "job-1", payload{}, AddOptions{})
	require.NoError(t, err)

	job := waitForState(t, q, "job-1", StateFailed)
	assert.Contains(t, job.FailedReason, "nil clip list")
}

func TestWorker_UnrecoverableErrorSkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultOptions())

	runWorker(t, q, 2, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		return nil, Unrecoverable(errors.New("malformed payload"))
	})

	_, err := q.Add(context.Background(), "job-1", payload{}, AddOptions{})
	require.NoError(t, err)

	job := waitForState(t, q, "job-1", StateFailed)
	assert.Equal(t, "malformed payload", job.FailedReason)
	assert.Equal(t, 1, job.AttemptsMade)
}

func TestWorker_EachJobRunsOnce(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultOptions())

	var mu sync.Mutex
	runs := map[string]int{}
	runWorker(t, q, 5, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		mu.Lock()
		runs[job.ID]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, nil
	})

	for i := 0; i < 40; i++ {
		_, err := q.Add(ctx, fmt.Sprintf("job-%d", i), payload{}, AddOptions{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		counts, err := q.Counts(ctx)
		return err == nil && counts.Completed == 40
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, runs, 40)
	for id, n := range runs {
		assert.Equal(t, 1, n, "job %s ran %d times", id, n)
	}
}

func TestWorker_HeartbeatKeepsLease(t *testing.T) {
	opts := DefaultOptions()
	opts.LockDuration = 200 * time.Millisecond
	opts.StalledCheck = time.Hour
	q, m, _ := newTestQueue(t, opts)

	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	runWorker(t, q, 1, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		close(started)
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		}
	})

	_, err := q.Add(context.Background(), "job-1", payload{}, AddOptions{})
	require.NoError(t, err)
	<-started

	// Three steps of 150ms move the lock clock well past its 200ms lease.
	for i := 0; i < 3; i++ {
		m.FastForward(150 * time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		assert.True(t, m.Exists(q.lockKey("job-1")), "lease expired after step %d", i+1)
	}

	close(release)
	waitForState(t, q, "job-1", StateCompleted)
	assert.False(t, cancelled.Load())
}

func TestWorker_LostLeaseCancelsHandler(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.LockDuration = 200 * time.Millisecond
	opts.StalledCheck = time.Hour
	q, m, _ := newTestQueue(t, opts)

	started := make(chan struct{})
	abandoned := make(chan error, 1)
	release := make(chan struct{})
	var once sync.Once
	runWorker(t, q, 1, func(ctx context.Context, job *Job, progress Reporter, deps workerDeps) (any, error) {
		first := false
		once.Do(func() { first = true })
		if !first {
			<-release
			return "second run", nil
		}
		close(started)
		<-ctx.Done()
		abandoned <- ctx.Err()
		return nil, ctx.Err()
	})
	t.Cleanup(func() { close(release) })

	_, err := q.Add(ctx, "job-1", payload{}, AddOptions{})
	require.NoError(t, err)
	<-started

	m.FastForward(opts.LockDuration + time.Millisecond)

	select {
	case err := <-abandoned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("handler context was not cancelled after the lease expired")
	}

	assert.ErrorIs(t, q.ExtendLock(ctx, "job-1", "stale-token"), ErrLockLost)

	requeued, failed, err := q.CheckStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, requeued)
	assert.Empty(t, failed)

	job, err := q.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.StalledCounter)
	assert.Equal(t, 1, job.AttemptsMade)
}
