package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"video-splitter/apperror"
	"video-splitter/constant"
	"video-splitter/dto"
	"video-splitter/entities"
	"video-splitter/pkg/redisqueue"
)

var ErrInvalidJobId = errors.New("job id is not a uuid")

type JobRepository interface {
	GetDB() *gorm.DB
	Migrate(ctx context.Context) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.Job, error)
	FindJobsByVideo(ctx context.Context, videoId string, limit int) ([]*entities.Job, error)
	ApplyEvent(ctx context.Context, event dto.JobEventMessage) error
}

type repo struct {
	db *gorm.DB
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB().WithContext(ctx).AutoMigrate(&entities.Job{})
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.GetDB().WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("Job not found")
	}
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *repo) FindJobsByVideo(ctx context.Context, videoId string, limit int) ([]*entities.Job, error) {
	var jobs []*entities.Job
	err := r.GetDB().WithContext(ctx).
		Where("video_id = ?", videoId).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ApplyEvent folds one lifecycle event into the job's history row. Rows that
// reached a terminal status are never moved back, so late or redelivered
// events are harmless.
func (r *repo) ApplyEvent(ctx context.Context, event dto.JobEventMessage) error {
	id, err := uuid.Parse(event.JobId)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidJobId, event.JobId)
	}

	if redisqueue.EventType(event.Type) == redisqueue.EventWaiting {
		job, err := NewJobRecord(id, event)
		if err != nil {
			return err
		}
		return r.GetDB().WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(job).Error
	}

	changes, err := ChangesFor(event)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	return r.GetDB().WithContext(ctx).
		Model(&entities.Job{}).
		Where("id = ? AND status NOT IN ?", id, []constant.JobStatus{constant.JobStatusCompleted, constant.JobStatusFailed}).
		Updates(changes).Error
}

// NewJobRecord builds the initial history row from a waiting event, whose
// data carries the queued request.
func NewJobRecord(id uuid.UUID, event dto.JobEventMessage) (*entities.Job, error) {
	var req entities.ResolvedRequest
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &req); err != nil {
			return nil, fmt.Errorf("decode job data: %w", err)
		}
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = event.At
	}
	return &entities.Job{
		ID:           id,
		VideoId:      req.VideoId,
		URL:          req.URL,
		ClipDuration: req.Duration,
		Status:       constant.JobStatusPending,
		CreatedAt:    created,
		UpdatedAt:    event.At,
	}, nil
}

// ChangesFor maps a non-waiting event to the columns it updates.
func ChangesFor(event dto.JobEventMessage) (map[string]any, error) {
	at := event.At
	changes := map[string]any{"updated_at": at}

	switch redisqueue.EventType(event.Type) {
	case redisqueue.EventActive:
		changes["status"] = constant.JobStatusProcessing
		changes["attempts"] = event.Attempts
		changes["processed_at"] = at
	case redisqueue.EventProgress:
		changes["progress"] = gorm.Expr("GREATEST(progress, ?)", event.Progress)
	case redisqueue.EventCompleted:
		var result entities.SplitResult
		if len(event.Result) > 0 {
			if err := json.Unmarshal(event.Result, &result); err != nil {
				return nil, fmt.Errorf("decode job result: %w", err)
			}
		}
		clips, err := entities.EncodeClips(result.Clips)
		if err != nil {
			return nil, err
		}
		changes["status"] = constant.JobStatusCompleted
		changes["progress"] = constant.ProgressDone
		changes["clips"] = clips
		changes["finished_at"] = at
	case redisqueue.EventRetrying:
		changes["status"] = constant.JobStatusPending
		changes["attempts"] = event.Attempts
		changes["failed_reason"] = event.Reason
	case redisqueue.EventStalled:
		changes["status"] = constant.JobStatusPending
	case redisqueue.EventFailed:
		changes["status"] = constant.JobStatusFailed
		changes["failed_reason"] = event.Reason
		changes["finished_at"] = at
		if event.Attempts > 0 {
			changes["attempts"] = event.Attempts
		}
	default:
		return nil, nil
	}
	return changes, nil
}

func NewRepo(db *sql.DB) (JobRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger:  logger.Default.LogMode(logger.Warn),
			NowFunc: func() time.Time { return time.Now().UTC() },
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}
