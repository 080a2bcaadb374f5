package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"video-splitter/config"
	"video-splitter/constant"
	"video-splitter/handler"
	"video-splitter/pkg/rabbitmq"
	"video-splitter/repository"
	"video-splitter/service"
	"video-splitter/tracing"
)

// RunHttp serves the API and, when withWorkers is set, runs the worker pool
// and the retention janitor in the same process.
func RunHttp(cfg *config.Config, withWorkers bool) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracer := setupTracing(ctx, cfg)
	defer shutdownTracer()

	a, err := newApp(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start")
		return
	}
	defer a.Close(ctx)

	var wg sync.WaitGroup
	if withWorkers {
		startWorkers(ctx, &wg, a)
	}

	r := NewRouter(RouterDependencies{
		Gateway:    a.gateway(),
		Streamer:   a.streamer(),
		Health:     service.NewHealth(a.cache, a.queue, 3*time.Second),
		Cache:      a.cache,
		Limiter:    NewRateLimiter(a.redis, cfg.Server.RateLimit, cfg.Server.RateWindow),
		Logger:     *zerolog.Ctx(ctx),
		CorsOrigin: cfg.Server.CorsOrigin,
	})

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	wg.Wait()
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// RunWorker runs only the worker pool and the janitor.
func RunWorker(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer := setupTracing(ctx, cfg)
	defer shutdownTracer()

	a, err := newApp(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start")
		return
	}
	defer a.Close(ctx)

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, a)
	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down worker")
	wg.Wait()
}

func startWorkers(ctx context.Context, wg *sync.WaitGroup, a *app) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := a.worker().Run(ctx, a.dependencies())
		if err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("worker pool error")
		}
	}()
	go func() {
		defer wg.Done()
		a.janitor().Run(ctx, a.cfg.Split.CleanupInterval)
	}()
}

// RunRecorder consumes job lifecycle events from RabbitMQ and writes the job
// history to Postgres.
func RunRecorder(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.DB == nil {
		zerolog.Ctx(ctx).Error().Msg("recorder requires postgres.dsn")
		return
	}

	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRepo")
		return
	}
	if err := repo.Migrate(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to migrate job history")
		return
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.RabbitMQ)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		return
	}

	deps := handler.ServiceDependencies{Recorder: repo}
	consumer := rabbitmq.NewConsumer(conn, cfg.RabbitMQ, cfg.Server.Workers, handler.JobEventHandler)
	if err := consumer.Consume(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("job event consumer error")
	}
	zerolog.Ctx(ctx).Info().Msg("recorder shutdown")
}

func setupTracing(ctx context.Context, cfg *config.Config) func() {
	tp, err := tracing.InitTracer(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("tracing disabled")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to flush traces")
		}
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", tracing.ServiceName).Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
