package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-splitter/apperror"
	"video-splitter/cache"
	"video-splitter/constant"
	"video-splitter/dto"
	"video-splitter/entities"
	"video-splitter/metrics"
	"video-splitter/pkg/redisqueue"
	"video-splitter/source"
)

// JobQueue is the part of the queue the gateway needs.
type JobQueue interface {
	Add(ctx context.Context, id string, payload any, opts redisqueue.AddOptions) (redisqueue.AddResult, error)
	GetJob(ctx context.Context, id string) (*redisqueue.Job, error)
}

// JobHistory answers status queries for jobs the queue no longer retains. A
// missing record is reported as an apperror of KindNotFound.
type JobHistory interface {
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.Job, error)
	FindJobsByVideo(ctx context.Context, videoId string, limit int) ([]*entities.Job, error)
}

// historyLimit caps the number of jobs listed per video.
const historyLimit = 20

type SubmitResult struct {
	Cached           bool
	Clips            []entities.Clip
	JobID            string
	EstimatedSeconds int
	// Deduplicated is true when an identical request was already in flight
	// and JobID refers to that job.
	Deduplicated bool
}

type JobView struct {
	ID           string
	Status       constant.JobStatus
	Progress     int
	Clips        []entities.Clip
	FailedReason string
	CreatedAt    *time.Time
	FinishedAt   *time.Time
}

type Gateway interface {
	Submit(ctx context.Context, req dto.SplitRequest) (SubmitResult, error)
	Status(ctx context.Context, jobId string) (JobView, error)
	// History lists the recorded jobs of one video, newest first.
	History(ctx context.Context, videoId string) ([]JobView, error)
}

type GatewayConfig struct {
	SupportedDurations []int
	MaxSourceDuration  int
	Priority           int
	DedupTTL           time.Duration
}

type gateway struct {
	source  source.Source
	cache   cache.Store
	queue   JobQueue
	history JobHistory
	cfg     GatewayConfig
	now     func() time.Time
}

func (g *gateway) Submit(ctx context.Context, req dto.SplitRequest) (SubmitResult, error) {
	resolved, err := g.validate(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}

	if entry, ok := g.cache.Get(ctx, resolved.VideoId, resolved.Duration); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		metrics.JobsSubmittedTotal.WithLabelValues("cached").Inc()
		zerolog.Ctx(ctx).Info().Str("video_id", resolved.VideoId).Msg("returning cached result")
		return SubmitResult{Cached: true, Clips: entry.Clips}, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	jobId := uuid.NewString()
	res, err := g.queue.Add(ctx, jobId, resolved, redisqueue.AddOptions{
		Priority: g.cfg.Priority,
		DedupKey: fmt.Sprintf("%s:%d", resolved.VideoId, resolved.Duration),
		DedupTTL: g.cfg.DedupTTL,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("enqueue split job: %w", err)
	}

	outcome := "queued"
	if res.Existing {
		outcome = "deduplicated"
	}
	metrics.JobsSubmittedTotal.WithLabelValues(outcome).Inc()
	zerolog.Ctx(ctx).Info().
		Str("job_id", res.JobID).
		Str("video_id", resolved.VideoId).
		Bool("deduplicated", res.Existing).
		Msg("split job accepted")

	return SubmitResult{
		JobID:            res.JobID,
		EstimatedSeconds: EstimateProcessingSeconds(resolved.VideoInfo.Duration, resolved.Duration),
		Deduplicated:     res.Existing,
	}, nil
}

// validate runs the cheap checks first so that malformed requests never cost a
// metadata lookup.
func (g *gateway) validate(ctx context.Context, req dto.SplitRequest) (entities.ResolvedRequest, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return entities.ResolvedRequest{}, apperror.InvalidInput("YouTube URL is required").WithCode(constant.ErrorCodeInvalidURL)
	}
	if !slices.Contains(g.cfg.SupportedDurations, req.Duration) {
		return entities.ResolvedRequest{}, apperror.InvalidInput(fmt.Sprintf("Duration must be one of: %s", joinInts(g.cfg.SupportedDurations))).
			WithCode(constant.ErrorCodeInvalidDuration)
	}

	videoId, err := g.source.ResolveID(url)
	if err != nil {
		return entities.ResolvedRequest{}, apperror.InvalidSource("Invalid YouTube URL format")
	}

	info, err := g.source.FetchMetadata(ctx, url)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("video_id", videoId).Msg("video metadata lookup failed")
		return entities.ResolvedRequest{}, apperror.SourceNotFound("Failed to validate video. It may be private, age-restricted, or unavailable")
	}
	if g.cfg.MaxSourceDuration > 0 && info.Duration > g.cfg.MaxSourceDuration {
		return entities.ResolvedRequest{}, apperror.SourceTooLong(fmt.Sprintf("Video is too long. Maximum duration is %d minutes", g.cfg.MaxSourceDuration/60))
	}

	return entities.ResolvedRequest{
		URL:       url,
		Duration:  req.Duration,
		VideoId:   videoId,
		VideoInfo: info,
		CreatedAt: g.now().UTC(),
	}, nil
}

func (g *gateway) Status(ctx context.Context, jobId string) (JobView, error) {
	job, err := g.queue.GetJob(ctx, jobId)
	if err == nil {
		return viewFromQueue(job)
	}
	if !errors.Is(err, redisqueue.ErrJobNotFound) {
		return JobView{}, fmt.Errorf("get job %s: %w", jobId, err)
	}
	if g.history == nil {
		return JobView{}, apperror.NotFound("Job not found")
	}

	id, parseErr := uuid.Parse(jobId)
	if parseErr != nil {
		return JobView{}, apperror.NotFound("Job not found")
	}
	record, err := g.history.FindJobById(ctx, id)
	if apperror.KindOf(err) == apperror.KindNotFound {
		return JobView{}, apperror.NotFound("Job not found")
	}
	if err != nil {
		return JobView{}, fmt.Errorf("get job history %s: %w", jobId, err)
	}
	return viewFromHistory(record)
}

func (g *gateway) History(ctx context.Context, videoId string) ([]JobView, error) {
	if g.history == nil {
		return nil, apperror.NotFound("Job history is not enabled")
	}
	records, err := g.history.FindJobsByVideo(ctx, videoId, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list job history %s: %w", videoId, err)
	}
	views := make([]JobView, 0, len(records))
	for _, record := range records {
		view, err := viewFromHistory(record)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func StatusOf(state redisqueue.State) constant.JobStatus {
	switch state {
	case redisqueue.StateActive:
		return constant.JobStatusProcessing
	case redisqueue.StateCompleted:
		return constant.JobStatusCompleted
	case redisqueue.StateFailed:
		return constant.JobStatusFailed
	default:
		return constant.JobStatusPending
	}
}

func viewFromQueue(job *redisqueue.Job) (JobView, error) {
	created := job.CreatedAt
	view := JobView{
		ID:         job.ID,
		Status:     StatusOf(job.State),
		Progress:   job.Progress,
		Clips:      []entities.Clip{},
		CreatedAt:  &created,
		FinishedAt: job.FinishedAt,
	}
	switch job.State {
	case redisqueue.StateCompleted:
		var result entities.SplitResult
		if err := job.DecodeResult(&result); err != nil {
			return JobView{}, fmt.Errorf("decode job result: %w", err)
		}
		if result.Clips != nil {
			view.Clips = result.Clips
		}
	case redisqueue.StateFailed:
		view.FailedReason = job.FailedReason
	}
	return view, nil
}

func viewFromHistory(record *entities.Job) (JobView, error) {
	created := record.CreatedAt
	view := JobView{
		ID:         record.ID.String(),
		Status:     record.Status,
		Progress:   record.Progress,
		Clips:      []entities.Clip{},
		CreatedAt:  &created,
		FinishedAt: record.FinishedAt,
	}
	if record.Status == constant.JobStatusFailed {
		view.FailedReason = record.FailedReason
	}
	if record.Clips != "" {
		clips, err := entities.DecodeClips(record.Clips)
		if err != nil {
			return JobView{}, err
		}
		if clips != nil {
			view.Clips = clips
		}
	}
	return view, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func NewGateway(src source.Source, store cache.Store, queue JobQueue, history JobHistory, cfg GatewayConfig) Gateway {
	if len(cfg.SupportedDurations) == 0 {
		cfg.SupportedDurations = constant.DefaultSupportedDurations
	}
	return &gateway{
		source:  src,
		cache:   store,
		queue:   queue,
		history: history,
		cfg:     cfg,
		now:     time.Now,
	}
}
