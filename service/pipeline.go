package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"video-splitter/apperror"
	"video-splitter/cache"
	"video-splitter/constant"
	"video-splitter/entities"
	"video-splitter/metrics"
	"video-splitter/pkg/redisqueue"
	"video-splitter/source"
	"video-splitter/storage"
	"video-splitter/transcode"
)

// Progress receives the completion percentage of the running job.
type Progress interface {
	Report(ctx context.Context, percent int) error
}

type Pipeline interface {
	Run(ctx context.Context, req entities.ResolvedRequest, progress Progress) (entities.SplitResult, error)
}

type PipelineConfig struct {
	UploadDir string
	OutputDir string
	CacheTTL  time.Duration
}

type pipeline struct {
	source  source.Source
	encoder transcode.Encoder
	cache   cache.Store
	archive storage.Archive
	cfg     PipelineConfig
	now     func() time.Time
}

// Run executes download, split, cache and cleanup for one request. Every run
// starts from scratch; a retried job repeats all steps.
func (p *pipeline) Run(ctx context.Context, req entities.ResolvedRequest, progress Progress) (result entities.SplitResult, err error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.id", req.VideoId),
		attribute.Int("clip.duration", req.Duration),
		attribute.Int("video.duration", req.VideoInfo.Duration),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	l := zerolog.Ctx(ctx).With().Str("video_id", req.VideoId).Logger()
	ctx = l.WithContext(ctx)

	shared := filepath.Join(p.cfg.UploadDir, req.VideoId+"."+constant.ClipExtension)
	sourcePath, err := p.reserveSource(req)
	if err != nil {
		return entities.SplitResult{}, err
	}
	defer p.cleanupSource(ctx, shared, sourcePath)

	if err := report(ctx, progress, constant.ProgressDownloadStarted); err != nil {
		return entities.SplitResult{}, err
	}
	if err := p.acquire(ctx, req, shared, sourcePath, progress); err != nil {
		return entities.SplitResult{}, err
	}
	if err := report(ctx, progress, constant.ProgressDownloaded); err != nil {
		return entities.SplitResult{}, err
	}

	clips, err := p.split(ctx, req, sourcePath, progress)
	if err != nil {
		return entities.SplitResult{}, err
	}
	if err := report(ctx, progress, constant.ProgressSplit); err != nil {
		return entities.SplitResult{}, err
	}

	p.store(ctx, req, clips)
	if err := report(ctx, progress, constant.ProgressCached); err != nil {
		return entities.SplitResult{}, err
	}

	p.cleanupSource(ctx, shared, sourcePath)
	if err := report(ctx, progress, constant.ProgressDone); err != nil {
		return entities.SplitResult{}, err
	}

	l.Info().Int("clips", len(clips)).Msg("video split successfully")
	return entities.SplitResult{VideoId: req.VideoId, Clips: clips}, nil
}

// reserveSource returns the source path of this run inside a directory no
// other run uses.
func (p *pipeline) reserveSource(req entities.ResolvedRequest) (string, error) {
	if err := os.MkdirAll(p.cfg.UploadDir, 0o755); err != nil {
		return "", apperror.Wrap(apperror.KindDownloadFailed, "Failed to download video", err)
	}
	dir, err := os.MkdirTemp(p.cfg.UploadDir, fmt.Sprintf("%s_%d_*", req.VideoId, req.Duration))
	if err != nil {
		return "", apperror.Wrap(apperror.KindDownloadFailed, "Failed to download video", err)
	}
	return filepath.Join(dir, req.VideoId+"."+constant.ClipExtension), nil
}

// acquire fills dest with the source video. A complete download of the same
// video published at shared is hard-linked instead of fetched again, and a
// fresh download is published there for runs that start later.
func (p *pipeline) acquire(ctx context.Context, req entities.ResolvedRequest, shared, dest string, progress Progress) error {
	ctx, span := otel.Tracer("service").Start(ctx, "download_video")
	defer span.End()
	defer observe("download", time.Now())

	if err := os.Link(shared, dest); err == nil {
		zerolog.Ctx(ctx).Info().Str("path", shared).Msg("video already downloaded")
		return nil
	}

	zerolog.Ctx(ctx).Info().Msg("downloading video")
	last := constant.ProgressDownloadStarted
	err := p.source.Download(ctx, req.URL, dest, func(written, total int64) {
		if total <= 0 {
			return
		}
		window := int64(constant.ProgressDownloaded - constant.ProgressDownloadStarted)
		pct := constant.ProgressDownloadStarted + int(window*written/total)
		if pct > last && pct < constant.ProgressDownloaded {
			last = pct
			_ = report(ctx, progress, pct)
		}
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("download failed")
		return apperror.Wrap(apperror.KindDownloadFailed, "Failed to download video", err)
	}
	if err := os.Link(dest, shared); err != nil && !errors.Is(err, os.ErrExist) {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("source not shared")
	}
	return nil
}

func (p *pipeline) split(ctx context.Context, req entities.ResolvedRequest, input string, progress Progress) ([]entities.Clip, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "split_video")
	defer span.End()
	defer observe("split", time.Now())

	plans := PlanClips(req.VideoInfo.Duration, req.Duration)
	if len(plans) == 0 {
		return nil, apperror.New(apperror.KindProcessingFailed, "Video has no duration to split")
	}
	span.SetAttributes(attribute.Int("clip.count", len(plans)))

	dir := filepath.Join(p.cfg.OutputDir, req.VideoId)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperror.Wrap(apperror.KindProcessingFailed, "Failed to split video", err)
	}

	zerolog.Ctx(ctx).Info().Int("clips", len(plans)).Msg("splitting video")
	clips := make([]entities.Clip, 0, len(plans))
	for i, plan := range plans {
		filename := entities.ClipFilename(req.VideoId, plan.Index)
		path := filepath.Join(dir, filename)

		if err := p.encoder.Clip(ctx, input, path, plan.Start, plan.Duration); err != nil {
			removeClips(ctx, append(clips, entities.Clip{Path: path}))
			return nil, apperror.Wrap(apperror.KindProcessingFailed, "Failed to split video", err)
		}

		clips = append(clips, entities.Clip{
			Index:    plan.Index,
			Start:    plan.Start,
			Duration: plan.Duration,
			Path:     path,
			URL:      entities.ClipURL(req.VideoId, filename),
		})
		metrics.ClipsProducedTotal.Inc()
		zerolog.Ctx(ctx).Debug().Int("clip", plan.Index).Int("of", len(plans)).Msg("clip processed")

		pct := constant.ProgressDownloaded + (constant.ProgressSplit-constant.ProgressDownloaded)*(i+1)/len(plans)
		if pct < constant.ProgressSplit {
			if err := report(ctx, progress, pct); err != nil {
				removeClips(ctx, clips)
				return nil, err
			}
		}
	}
	return clips, nil
}

// store archives the clips when an archive is configured and records the
// cache entry. Neither failure fails the job.
func (p *pipeline) store(ctx context.Context, req entities.ResolvedRequest, clips []entities.Clip) {
	ctx, span := otel.Tracer("service").Start(ctx, "cache_result")
	defer span.End()
	defer observe("cache", time.Now())

	if p.archive != nil {
		if err := p.archive.UploadClips(ctx, req.VideoId, clips); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to archive clips")
		}
	}

	entry := entities.CacheEntry{
		VideoId:     req.VideoId,
		Duration:    req.Duration,
		Clips:       clips,
		VideoInfo:   req.VideoInfo,
		ProcessedAt: p.now().UTC(),
	}
	if !p.cache.Set(ctx, entry, p.cfg.CacheTTL) {
		zerolog.Ctx(ctx).Warn().Msg("split result was not cached")
	}
}

// cleanupSource removes the run directory. The shared copy is removed only
// when it is the file this run used; another run's download stays.
func (p *pipeline) cleanupSource(ctx context.Context, shared, path string) {
	if mine, err := os.Stat(path); err == nil {
		if published, err := os.Stat(shared); err == nil && os.SameFile(mine, published) {
			if err := os.Remove(shared); err != nil && !errors.Is(err, os.ErrNotExist) {
				zerolog.Ctx(ctx).Error().Err(err).Str("path", shared).Msg("failed to clean up source video")
			}
		}
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to clean up source video")
	}
}

func removeClips(ctx context.Context, clips []entities.Clip) {
	for _, c := range clips {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			zerolog.Ctx(ctx).Error().Err(err).Str("path", c.Path).Msg("failed to remove clip")
		}
	}
}

// report publishes progress. Only a lost lease is fatal: the job belongs to
// another worker now.
func report(ctx context.Context, progress Progress, percent int) error {
	if progress == nil {
		return nil
	}
	err := progress.Report(ctx, percent)
	if errors.Is(err, redisqueue.ErrLockLost) {
		return fmt.Errorf("report progress %d: %w", percent, err)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("progress", percent).Msg("failed to report progress")
	}
	trace.SpanFromContext(ctx).AddEvent("progress", trace.WithAttributes(attribute.Int("percent", percent)))
	return nil
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func NewPipeline(src source.Source, encoder transcode.Encoder, store cache.Store, archive storage.Archive, cfg PipelineConfig) Pipeline {
	return &pipeline{
		source:  src,
		encoder: encoder,
		cache:   store,
		archive: archive,
		cfg:     cfg,
		now:     time.Now,
	}
}
