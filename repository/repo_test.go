package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"

	"video-splitter/constant"
	"video-splitter/dto"
	"video-splitter/entities"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNewJobRecord(t *testing.T) {
	id := uuid.New()
	data, err := json.Marshal(entities.ResolvedRequest{
		URL:       "https://youtu.be/abc123",
		Duration:  60,
		VideoId:   "abc123",
		CreatedAt: at.Add(-time.Second),
	})
	require.NoError(t, err)

	job, err := NewJobRecord(id, dto.JobEventMessage{Type: "waiting", JobId: id.String(), Data: data, At: at})
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "abc123", job.VideoId)
	assert.Equal(t, 60, job.ClipDuration)
	assert.Equal(t, constant.JobStatusPending, job.Status)
	assert.Equal(t, at.Add(-time.Second), job.CreatedAt)
}

func TestChangesFor(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		changes, err := ChangesFor(dto.JobEventMessage{Type: "active", Attempts: 1, At: at})
		require.NoError(t, err)
		assert.Equal(t, constant.JobStatusProcessing, changes["status"])
		assert.Equal(t, 1, changes["attempts"])
		assert.Equal(t, at, changes["processed_at"])
	})

	t.Run("progress never decreases", func(t *testing.T) {
		changes, err := ChangesFor(dto.JobEventMessage{Type: "progress", Progress: 40, At: at})
		require.NoError(t, err)
		expr, ok := changes["progress"].(clause.Expr)
		require.True(t, ok)
		assert.Equal(t, "GREATEST(progress, ?)", expr.SQL)
		assert.Equal(t, []any{40}, expr.Vars)
	})

	t.Run("completed", func(t *testing.T) {
		result, err := json.Marshal(entities.SplitResult{VideoId: "abc123", Clips: []entities.Clip{{Index: 1, URL: "/api/clips/abc123/abc123_clip_1.mp4"}}})
		require.NoError(t, err)

		changes, err := ChangesFor(dto.JobEventMessage{Type: "completed", Result: result, At: at})
		require.NoError(t, err)
		assert.Equal(t, constant.JobStatusCompleted, changes["status"])
		assert.Equal(t, constant.ProgressDone, changes["progress"])
		assert.Equal(t, at, changes["finished_at"])

		clips, err := entities.DecodeClips(changes["clips"].(string))
		require.NoError(t, err)
		require.Len(t, clips, 1)
		assert.Equal(t, 1, clips[0].Index)
	})

	t.Run("failed", func(t *testing.T) {
		changes, err := ChangesFor(dto.JobEventMessage{Type: "failed", Reason: "Failed to download video", Attempts: 3, At: at})
		require.NoError(t, err)
		assert.Equal(t, constant.JobStatusFailed, changes["status"])
		assert.Equal(t, "Failed to download video", changes["failed_reason"])
		assert.Equal(t, 3, changes["attempts"])
	})

	t.Run("retrying", func(t *testing.T) {
		changes, err := ChangesFor(dto.JobEventMessage{Type: "retrying", Reason: "timeout", Attempts: 1, At: at})
		require.NoError(t, err)
		assert.Equal(t, constant.JobStatusPending, changes["status"])
	})

	t.Run("unknown", func(t *testing.T) {
		changes, err := ChangesFor(dto.JobEventMessage{Type: "paused", At: at})
		require.NoError(t, err)
		assert.Empty(t, changes)
	})
}
