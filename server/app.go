package server

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"video-splitter/cache"
	"video-splitter/config"
	"video-splitter/handler"
	"video-splitter/pkg/rabbitmq"
	"video-splitter/pkg/redisqueue"
	"video-splitter/repository"
	"video-splitter/service"
	"video-splitter/source"
	"video-splitter/storage"
	"video-splitter/transcode"
)

// app holds the handles shared by every component of one process. They are
// built once and injected.
type app struct {
	cfg       *config.Config
	redis     *redis.Client
	queue     *redisqueue.Queue
	publisher *rabbitmq.EventPublisher
	cache     cache.Store
	source    source.Source
	archive   storage.Archive
	repo      repository.JobRepository
	pipeline  service.Pipeline
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	for _, dir := range []string{cfg.Split.UploadDir, cfg.Split.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	client, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a := &app{cfg: cfg, redis: client}

	sinks := []redisqueue.Option{redisqueue.WithEventSink(redisqueue.LogSink{})}
	if cfg.RabbitMQ.Enabled {
		conn, err := config.NewRabbitMQConn(ctx, cfg.RabbitMQ)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("job events will not be published")
		} else {
			publisher, err := rabbitmq.NewEventPublisher(conn, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.Kind)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("job events will not be published")
			} else {
				a.publisher = publisher
				sinks = append(sinks, redisqueue.WithEventSink(publisher))
			}
		}
	}
	a.queue = redisqueue.NewQueue(client, cfg.Queue.Name, queueOptions(cfg.Queue), sinks...)

	a.cache = cache.NewRedisStore(client, cfg.Split.CacheTTL)
	a.source = source.NewYtDlp(cfg.Tools.YtDlp, cfg.Tools.MetadataTimeout, source.NewHTTPDownloader(cfg.Tools.DownloadTimeout))

	if cfg.Storage != nil {
		if err := storage.EnsureBucket(ctx, cfg.Storage, cfg.MinIOBucket); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("clip archive disabled")
		} else {
			a.archive = storage.NewMinIOArchive(cfg.Storage, cfg.MinIOBucket)
		}
	}

	if cfg.DB != nil {
		repo, err := repository.NewRepo(cfg.DB)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("job history disabled")
		} else {
			a.repo = repo
		}
	}

	profile := transcode.DefaultProfile()
	profile.Threads = cfg.Tools.FFmpegThreads
	a.pipeline = service.NewPipeline(a.source, transcode.NewFFmpeg(cfg.Tools.FFmpeg, profile), a.cache, a.archive, service.PipelineConfig{
		UploadDir: cfg.Split.UploadDir,
		OutputDir: cfg.Split.OutputDir,
		CacheTTL:  cfg.Split.CacheTTL,
	})

	return a, nil
}

func queueOptions(cfg config.Queue) redisqueue.Options {
	opts := redisqueue.DefaultOptions()
	if cfg.Prefix != "" {
		opts.Prefix = cfg.Prefix
	}
	if cfg.Attempts > 0 {
		opts.Attempts = cfg.Attempts
	}
	if cfg.Backoff > 0 {
		opts.BackoffDelay = cfg.Backoff
	}
	if cfg.MaxBackoff > 0 {
		opts.BackoffMax = cfg.MaxBackoff
	}
	if cfg.LockDuration > 0 {
		opts.LockDuration = cfg.LockDuration
	}
	if cfg.StalledCheck > 0 {
		opts.StalledCheck = cfg.StalledCheck
	}
	if cfg.KeepCompleted > 0 {
		opts.KeepCompleted = cfg.KeepCompleted
	}
	if cfg.KeepFailed > 0 {
		opts.KeepFailed = cfg.KeepFailed
	}
	if cfg.Priority > 0 {
		opts.DefaultPriority = cfg.Priority
	}
	return opts
}

func (a *app) history() service.JobHistory {
	if a.repo == nil {
		return nil
	}
	return a.repo
}

func (a *app) gateway() service.Gateway {
	return service.NewGateway(a.source, a.cache, a.queue, a.history(), service.GatewayConfig{
		SupportedDurations: a.cfg.Split.Durations,
		MaxSourceDuration:  a.cfg.Split.MaxSourceDuration,
		Priority:           a.cfg.Queue.Priority,
		DedupTTL:           a.cfg.Queue.DedupTTL,
	})
}

func (a *app) streamer() service.Streamer {
	return service.NewStreamer(a.cfg.Split.OutputDir, a.archive)
}

func (a *app) janitor() service.Janitor {
	return service.NewJanitor(a.cfg.Split.FileRetention, a.cfg.Split.OutputDir, a.cfg.Split.UploadDir)
}

func (a *app) worker() redisqueue.Worker[handler.ServiceDependencies] {
	return redisqueue.NewWorker[handler.ServiceDependencies](a.queue, a.cfg.Server.Workers, a.cfg.Queue.PollInterval, handler.SplitJobHandler)
}

func (a *app) dependencies() handler.ServiceDependencies {
	deps := handler.ServiceDependencies{Pipeline: a.pipeline}
	if a.repo != nil {
		deps.Recorder = a.repo
	}
	return deps
}

func (a *app) Close(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if err := a.queue.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close redis client")
	}
}
