package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-splitter/dto"
)

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodGet, "/api/clips/abc/missing.mp4", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	w := f.do(http.MethodGet, "/api/clips/abc/missing.mp4", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	res := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", res.Code)
	assert.GreaterOrEqual(t, res.RetryAfter, 1)
	assert.LessOrEqual(t, res.RetryAfter, 60)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimit_SkipsJobStatusAndRoot(t *testing.T) {
	f := newFixture(t, 1)

	for i := 0; i < 5; i++ {
		w := f.do(http.MethodGet, "/api/job-status/job-1", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("RateLimit-Limit"))

		w = f.do(http.MethodGet, "/", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_FailsOpenWhenRedisIsDown(t *testing.T) {
	f := newFixture(t, 1)
	f.redis.Close()

	for i := 0; i < 3; i++ {
		w := f.do(http.MethodGet, "/api/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	limiter := NewRateLimiter(client, 1, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, remaining, retryAfter, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, 50*time.Second, retryAfter)

	allowed, _, _, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, _, err = limiter.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)

	now = now.Add(time.Minute)
	allowed, _, _, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, 100)

	w := f.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = f.do(http.MethodOptions, "/api/split-video", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestId_IsPropagated(t *testing.T) {
	f := newFixture(t, 100)

	w := f.do(http.MethodGet, "/", "", map[string]string{"X-Request-Id": "req-42"})
	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
}
