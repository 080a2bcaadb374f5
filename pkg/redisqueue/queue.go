// Package redisqueue is a durable, at-least-once job queue on Redis with
// priorities, leases, delayed retries and stalled-job recovery.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("job id already exists")
	ErrLockLost     = errors.New("job lock lost")
	ErrNoJob        = errors.New("no job available")

	// ErrUnrecoverable marks handler errors that must not be retried.
	ErrUnrecoverable = errors.New("job cannot be retried")
)

type unrecoverableError struct {
	err error
}

func (e unrecoverableError) Error() string { return e.err.Error() }
func (e unrecoverableError) Unwrap() error { return e.err }
func (e unrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

// Unrecoverable wraps err so that the worker fails the job without retrying.
// The job's failed reason stays err's message.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err: err}
}

const stalledReason = "job stalled more than allowable limit"

type Options struct {
	Prefix          string
	Attempts        int
	BackoffDelay    time.Duration
	BackoffMax      time.Duration
	KeepCompleted   int
	KeepFailed      int
	LockDuration    time.Duration
	StalledCheck    time.Duration
	DefaultPriority int
}

func DefaultOptions() Options {
	return Options{
		Prefix:          "queue",
		Attempts:        3,
		BackoffDelay:    2 * time.Second,
		BackoffMax:      5 * time.Minute,
		KeepCompleted:   100,
		KeepFailed:      50,
		LockDuration:    30 * time.Second,
		StalledCheck:    30 * time.Second,
		DefaultPriority: 1,
	}
}

type AddOptions struct {
	Priority int
	// DedupKey makes the add idempotent for as long as the job holding the
	// key is waiting, delayed or active.
	DedupKey string
	DedupTTL time.Duration
}

// AddResult tells the caller which job now represents the request.
type AddResult struct {
	JobID string
	// Existing is true when DedupKey matched an in-flight job and no new job
	// was created.
	Existing bool
}

type Queue struct {
	client redis.UniversalClient
	name   string
	opts   Options
	sinks  []EventSink
	now    func() time.Time
}

type Option func(*Queue)

func WithEventSink(sink EventSink) Option {
	return func(q *Queue) {
		if sink != nil {
			q.sinks = append(q.sinks, sink)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func NewQueue(client redis.UniversalClient, name string, opts Options, options ...Option) *Queue {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = 30 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "queue"
	}
	q := &Queue{
		client: client,
		name:   name,
		opts:   opts,
		now:    time.Now,
	}
	for _, o := range options {
		o(q)
	}
	return q
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Options() Options {
	return q.opts
}

func (q *Queue) key(parts ...string) string {
	k := q.opts.Prefix + ":" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) jobPrefix() string  { return q.key("job") + ":" }
func (q *Queue) lockPrefix() string { return q.key("lock") + ":" }
func (q *Queue) jobKey(id string) string {
	return q.jobPrefix() + id
}
func (q *Queue) lockKey(id string) string {
	return q.lockPrefix() + id
}

func (q *Queue) nowMillis() int64 {
	return q.now().UnixMilli()
}

func waitScore(priority int, millis int64) int64 {
	return int64(priority)*10000000000000 + millis
}

// Add registers a job under an application supplied id. The job can be looked
// up by that id as soon as Add returns.
func (q *Queue) Add(ctx context.Context, id string, payload any, opts AddOptions) (AddResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return AddResult{}, fmt.Errorf("marshal payload: %w", err)
	}
	priority := opts.Priority
	if priority == 0 {
		priority = q.opts.DefaultPriority
	}
	ts := q.nowMillis()
	dedupTTL := opts.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = time.Hour
	}
	dedupKey := ""
	if opts.DedupKey != "" {
		dedupKey = q.key("dedup", opts.DedupKey)
	}

	res, err := addScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("wait")},
		id, data, priority, ts, waitScore(priority, ts), dedupKey, dedupTTL.Milliseconds(), q.jobPrefix(),
	).Slice()
	if err != nil {
		return AddResult{}, fmt.Errorf("add job %s: %w", id, err)
	}
	if len(res) != 2 {
		return AddResult{}, fmt.Errorf("add job %s: unexpected reply %v", id, res)
	}
	code, _ := res[0].(int64)
	jobID, _ := res[1].(string)

	switch code {
	case 0:
		return AddResult{JobID: id}, ErrDuplicateJob
	case 2:
		return AddResult{JobID: jobID, Existing: true}, nil
	}

	q.emit(ctx, Event{Type: EventWaiting, JobID: id, Data: data})
	return AddResult{JobID: id}, nil
}

func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	h, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(id, h), nil
}

func (q *Queue) GetState(ctx context.Context, id string) (State, error) {
	state, err := q.client.HGet(ctx, q.jobKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", id, err)
	}
	return State(state), nil
}

// Claim moves the next waiting job to active and leases it to token.
// Delayed jobs that are due are promoted first.
func (q *Queue) Claim(ctx context.Context, token string) (*Job, error) {
	if _, err := q.PromoteDelayed(ctx); err != nil {
		return nil, err
	}

	id, err := claimScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.key("active")},
		token, q.opts.LockDuration.Milliseconds(), q.nowMillis(), q.jobPrefix(), q.lockPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) || (err == nil && id == "") {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	q.emit(ctx, Event{Type: EventActive, JobID: id, Attempts: job.AttemptsMade, Progress: job.Progress})
	return job, nil
}

// UpdateProgress stores percent when it is larger than the stored value and
// renews the lease. It returns the progress now stored for the job.
func (q *Queue) UpdateProgress(ctx context.Context, id, token string, percent int) (int, error) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	stored, err := progressScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.lockKey(id)},
		token, percent, q.opts.LockDuration.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("update progress %s: %w", id, err)
	}
	if stored < 0 {
		return 0, ErrLockLost
	}
	if stored == percent {
		q.emit(ctx, Event{Type: EventProgress, JobID: id, Progress: stored})
	}
	return stored, nil
}

func (q *Queue) ExtendLock(ctx context.Context, id, token string) error {
	ok, err := extendScript.Run(ctx, q.client,
		[]string{q.lockKey(id)},
		token, q.opts.LockDuration.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", id, err)
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

func (q *Queue) Complete(ctx context.Context, id, token string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	code, err := completeScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.lockKey(id), q.key("active"), q.key("completed")},
		token, id, data, q.nowMillis(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if code < 0 {
		return ErrLockLost
	}

	q.emit(ctx, Event{Type: EventCompleted, JobID: id, Progress: q.progressOf(ctx, id), Result: data})
	q.prune(ctx, q.key("completed"), q.opts.KeepCompleted)
	return nil
}

// Fail records a failed attempt. It reports whether the job reached its
// terminal failed state; otherwise it was scheduled for a delayed retry.
func (q *Queue) Fail(ctx context.Context, id, token, reason string) (bool, error) {
	return q.fail(ctx, id, token, reason, q.opts.Attempts)
}

// Discard fails the job for good regardless of the attempts left.
func (q *Queue) Discard(ctx context.Context, id, token, reason string) error {
	_, err := q.fail(ctx, id, token, reason, 0)
	return err
}

func (q *Queue) fail(ctx context.Context, id, token, reason string, maxAttempts int) (bool, error) {
	if reason == "" {
		reason = "unknown error"
	}
	attempts, err := q.client.HGet(ctx, q.jobKey(id), "attemptsMade").Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read attempts %s: %w", id, err)
	}
	delay := RetryDelay(q.opts.BackoffDelay, q.opts.BackoffMax, attempts+1)

	code, err := failScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.lockKey(id), q.key("active"), q.key("delayed"), q.key("failed")},
		token, id, reason, q.nowMillis(), maxAttempts, delay.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}

	switch code {
	case -1:
		return false, ErrLockLost
	case 0:
		q.emit(ctx, Event{Type: EventRetrying, JobID: id, Attempts: attempts + 1, Reason: reason, Delay: delay})
		return false, nil
	}

	q.emit(ctx, Event{Type: EventFailed, JobID: id, Attempts: attempts + 1, Reason: reason, Progress: q.progressOf(ctx, id)})
	q.prune(ctx, q.key("failed"), q.opts.KeepFailed)
	return true, nil
}

// PromoteDelayed moves delayed jobs whose retry time has come back to wait.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		q.nowMillis(), q.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return n, nil
}

// CheckStalled re-queues active jobs whose lease expired. A job that has no
// attempts left is failed instead.
func (q *Queue) CheckStalled(ctx context.Context) (requeued []string, failed []string, err error) {
	res, err := stalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait"), q.key("failed")},
		q.nowMillis(), q.jobPrefix(), q.lockPrefix(), q.opts.Attempts, stalledReason,
	).Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("check stalled: %w", err)
	}
	if len(res) == 2 {
		requeued = toStrings(res[0])
		failed = toStrings(res[1])
	}

	for _, id := range requeued {
		q.emit(ctx, Event{Type: EventStalled, JobID: id})
	}
	for _, id := range failed {
		q.emit(ctx, Event{Type: EventStalled, JobID: id})
		q.emit(ctx, Event{Type: EventFailed, JobID: id, Reason: stalledReason})
	}
	if len(failed) > 0 {
		q.prune(ctx, q.key("failed"), q.opts.KeepFailed)
	}
	return requeued, failed, nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) progressOf(ctx context.Context, id string) int {
	v, err := q.client.HGet(ctx, q.jobKey(id), "progress").Result()
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

func (q *Queue) prune(ctx context.Context, set string, keep int) {
	if err := pruneScript.Run(ctx, q.client, []string{set}, keep, q.jobPrefix()).Err(); err != nil {
		logger(ctx).Warn().Err(err).Str("set", set).Msg("failed to prune finished jobs")
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (q *Queue) Close() error {
	return q.client.Close()
}
