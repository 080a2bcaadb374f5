package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"video-splitter/constant"
	"video-splitter/dto"
	"video-splitter/metrics"
)

// requestLogger attaches a per-request logger to the request context and logs
// every finished request.
func requestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestId := c.GetHeader("X-Request-Id")
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Header("X-Request-Id", requestId)

		l := base.With().Str("request_id", requestId).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		var e *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			e = l.Error()
		case status >= http.StatusBadRequest:
			e = l.Warn()
		default:
			e = l.Info()
		}
		e.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Msg("request")
	}
}

// securityHeaders sets the hardening headers and answers CORS preflights.
func securityHeaders(corsOrigin string) gin.HandlerFunc {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")

		h.Set("Access-Control-Allow-Origin", corsOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Range, X-Request-Id")
		h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges, X-Request-Id")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimiter is a fixed-window request counter kept in Redis, shared by all
// server instances.
type RateLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client redis.UniversalClient, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
		now:    time.Now,
	}
}

// Allow counts one request for key. remaining is the number of requests left
// in the current window and retryAfter the time until it resets.
func (r *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, retryAfter time.Duration, err error) {
	now := r.now()
	windowMs := r.window.Milliseconds()
	slot := now.UnixMilli() / windowMs
	retryAfter = time.Duration((slot+1)*windowMs-now.UnixMilli()) * time.Millisecond

	counterKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, slot)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, counterKey)
	pipe.Expire(ctx, counterKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, r.limit, retryAfter, err
	}

	count := int(incr.Val())
	remaining = max(r.limit-count, 0)
	return count <= r.limit, remaining, retryAfter, nil
}

// rateLimit rejects callers over the limit with 429. Job status polling is
// exempt. A Redis failure lets the request through.
func rateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.limit <= 0 || strings.HasPrefix(c.Request.URL.Path, "/api/job-status/") {
			c.Next()
			return
		}

		allowed, remaining, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		retrySeconds := int(math.Ceil(retryAfter.Seconds()))
		c.Header("RateLimit-Limit", strconv.Itoa(limiter.limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(retrySeconds))

		if !allowed {
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(retrySeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Success:    false,
				Error:      "Too many requests, please try again later",
				Code:       string(constant.ErrorCodeRateLimitExceeded),
				RetryAfter: max(retrySeconds, 1),
			})
			return
		}
		c.Next()
	}
}
