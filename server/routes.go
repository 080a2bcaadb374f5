package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"video-splitter/apperror"
	"video-splitter/constant"
	"video-splitter/dto"
	"video-splitter/entities"
	"video-splitter/service"
)

// CacheInvalidator drops every cached result of one video.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, videoId string) (int, error)
}

type RouterDependencies struct {
	Gateway    service.Gateway
	Streamer   service.Streamer
	Health     service.Health
	Cache      CacheInvalidator
	Limiter    *RateLimiter
	Logger     zerolog.Logger
	CorsOrigin string
}

type api struct {
	deps RouterDependencies
}

func NewRouter(deps RouterDependencies) *gin.Engine {
	a := &api{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger), securityHeaders(deps.CorsOrigin))

	r.GET("/", a.index)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api", rateLimit(deps.Limiter))
	g.POST("/split-video", a.splitVideo)
	g.GET("/job-status/:jobId", a.jobStatus)
	g.GET("/clips/:videoId/:filename", a.clip)
	g.GET("/videos/:videoId/jobs", a.videoJobs)
	g.DELETE("/cache/:videoId", a.invalidateCache)
	g.GET("/health", a.health)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Success: false,
			Error:   "Route not found",
			Code:    string(constant.ErrorCodeNotFound),
		})
	})
	return r
}

func writeError(c *gin.Context, err error) {
	status, code, msg := apperror.Public(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
	}
	c.JSON(status, dto.ErrorResponse{Success: false, Error: msg, Code: string(code)})
}

func (a *api) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Video Splitter API",
		"version": "1.0.0",
		"endpoints": gin.H{
			"splitVideo":      "POST /api/split-video",
			"jobStatus":       "GET /api/job-status/:jobId",
			"clips":           "GET /api/clips/:videoId/:filename",
			"videoJobs":       "GET /api/videos/:videoId/jobs",
			"invalidateCache": "DELETE /api/cache/:videoId",
			"health":          "GET /api/health",
			"metrics":         "GET /metrics",
		},
	})
}

func (a *api) splitVideo(c *gin.Context) {
	var req dto.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.InvalidInput("Request body must be JSON with url and duration"))
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().Str("url", req.URL).Int("duration", req.Duration).Msg("received split request")

	res, err := a.deps.Gateway.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	if res.Cached {
		c.JSON(http.StatusOK, dto.SplitCached{
			Success: true,
			Cached:  true,
			Clips:   res.Clips,
			Message: "Video already processed (from cache)",
		})
		return
	}

	msg := "Video processing started"
	if res.Deduplicated {
		msg = "Video processing already in progress"
	}
	c.JSON(http.StatusAccepted, dto.SplitAccepted{
		Success:       true,
		JobId:         res.JobID,
		Message:       msg,
		EstimatedTime: res.EstimatedSeconds,
	})
}

func (a *api) jobStatus(c *gin.Context) {
	view, err := a.deps.Gateway.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			writeError(c, apperror.NotFound("Job not found"))
			return
		}
		writeError(c, err)
		return
	}

	clips := view.Clips
	if clips == nil {
		clips = []entities.Clip{}
	}
	c.JSON(http.StatusOK, dto.JobStatusResponse{
		Success:      true,
		JobId:        view.ID,
		Status:       string(view.Status),
		Progress:     view.Progress,
		Clips:        clips,
		FailedReason: view.FailedReason,
		CreatedAt:    view.CreatedAt,
		FinishedAt:   view.FinishedAt,
	})
}

func (a *api) videoJobs(c *gin.Context) {
	videoId := c.Param("videoId")
	views, err := a.deps.Gateway.History(c.Request.Context(), videoId)
	if err != nil {
		writeError(c, err)
		return
	}

	jobs := make([]dto.JobSummary, 0, len(views))
	for _, v := range views {
		clips := v.Clips
		if clips == nil {
			clips = []entities.Clip{}
		}
		jobs = append(jobs, dto.JobSummary{
			JobId:        v.ID,
			Status:       string(v.Status),
			Progress:     v.Progress,
			Clips:        clips,
			FailedReason: v.FailedReason,
			CreatedAt:    v.CreatedAt,
			FinishedAt:   v.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, dto.VideoJobsResponse{Success: true, VideoId: videoId, Jobs: jobs})
}

func (a *api) clip(c *gin.Context) {
	f, err := a.deps.Streamer.Open(c.Request.Context(), c.Param("videoId"), c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	size := f.Size
	r, partial, err := service.ParseRange(c.GetHeader("Range"), size)
	if errors.Is(err, service.ErrRangeNotSatisfiable) {
		c.Header("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	headers := map[string]string{"Accept-Ranges": "bytes"}
	if !partial {
		c.DataFromReader(http.StatusOK, size, "video/mp4", f, headers)
		return
	}

	if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
		writeError(c, err)
		return
	}
	headers["Content-Range"] = r.ContentRange(size)
	c.DataFromReader(http.StatusPartialContent, r.Length(), "video/mp4", io.LimitReader(f, r.Length()), headers)
}

func (a *api) invalidateCache(c *gin.Context) {
	videoId := c.Param("videoId")
	removed, err := a.deps.Cache.Invalidate(c.Request.Context(), videoId)
	if err != nil {
		writeError(c, err)
		return
	}
	zerolog.Ctx(c.Request.Context()).Info().Str("video_id", videoId).Int("removed", removed).Msg("cache invalidated")
	c.JSON(http.StatusOK, gin.H{"success": true, "videoId": videoId, "removed": removed})
}

func (a *api) health(c *gin.Context) {
	report := a.deps.Health.Check(c.Request.Context())

	res := dto.HealthResponse{
		Success:   report.Healthy,
		Status:    "unhealthy",
		Uptime:    report.Uptime.Seconds(),
		Timestamp: report.Timestamp,
		Services: dto.HealthServices{
			Redis:       "disconnected",
			Queue:       "unhealthy",
			QueueCounts: report.QueueCounts,
		},
	}
	if report.Redis {
		res.Services.Redis = "connected"
	}
	if report.Queue {
		res.Services.Queue = "healthy"
	}

	status := http.StatusServiceUnavailable
	if report.Healthy {
		res.Status = "healthy"
		status = http.StatusOK
	}
	c.JSON(status, res)
}
