package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-splitter/pkg/redisqueue"
)

type fakeCounter struct {
	counts redisqueue.Counts
	err    error
	block  bool
}

func (f *fakeCounter) Counts(ctx context.Context) (redisqueue.Counts, error) {
	if f.block {
		<-ctx.Done()
		return redisqueue.Counts{}, ctx.Err()
	}
	return f.counts, f.err
}

func TestHealth_Healthy(t *testing.T) {
	h := NewHealth(newFakeCache(), &fakeCounter{counts: redisqueue.Counts{Waiting: 2, Completed: 7}}, time.Second)

	report := h.Check(context.Background())
	assert.True(t, report.Healthy)
	assert.True(t, report.Redis)
	assert.True(t, report.Queue)
	require.NotNil(t, report.QueueCounts)
	assert.Equal(t, int64(2), report.QueueCounts.Waiting)
	assert.False(t, report.Timestamp.IsZero())
}

func TestHealth_RedisDown(t *testing.T) {
	store := newFakeCache()
	store.pingErr = errors.New("connection refused")

	report := NewHealth(store, &fakeCounter{}, time.Second).Check(context.Background())
	assert.False(t, report.Healthy)
	assert.False(t, report.Redis)
	assert.True(t, report.Queue)
}

func TestHealth_ProbesAreBounded(t *testing.T) {
	h := NewHealth(newFakeCache(), &fakeCounter{block: true}, 50*time.Millisecond)

	start := time.Now()
	report := h.Check(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, report.Healthy)
	assert.False(t, report.Queue)
	assert.Nil(t, report.QueueCounts)
}
