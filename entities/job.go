package entities

import (
	"time"

	"github.com/google/uuid"

	"video-splitter/constant"
)

// Job is the durable history row of one split job. The queue prunes its own
// records; this table keeps them.
type Job struct {
	ID           uuid.UUID          `json:"id" gorm:"type:uuid;primary_key"`
	VideoId      string             `json:"video_id" gorm:"type:varchar(64);not null;index:idx_split_jobs_video"`
	URL          string             `json:"url" gorm:"type:text"`
	ClipDuration int                `json:"clip_duration" gorm:"type:integer;index:idx_split_jobs_video"`
	Status       constant.JobStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	Progress     int                `json:"progress" gorm:"type:integer;default:0"`
	Attempts     int                `json:"attempts" gorm:"type:integer;default:0"`
	FailedReason string             `json:"failed_reason" gorm:"type:text"`
	Clips        string             `json:"clips" gorm:"type:text"`
	CreatedAt    time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt  *time.Time         `json:"processed_at" gorm:"type:timestamptz"`
	FinishedAt   *time.Time         `json:"finished_at" gorm:"type:timestamptz"`
	UpdatedAt    time.Time          `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Job) TableName() string {
	return "split_jobs"
}
