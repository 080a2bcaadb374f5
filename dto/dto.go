package dto

import (
	"encoding/json"
	"time"

	"video-splitter/entities"
	"video-splitter/pkg/redisqueue"
)

type SplitRequest struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

type SplitAccepted struct {
	Success       bool   `json:"success"`
	JobId         string `json:"jobId"`
	Message       string `json:"message"`
	EstimatedTime int    `json:"estimatedTime"`
}

type SplitCached struct {
	Success bool            `json:"success"`
	Cached  bool            `json:"cached"`
	Clips   []entities.Clip `json:"clips"`
	Message string          `json:"message"`
}

type JobStatusResponse struct {
	Success      bool            `json:"success"`
	JobId        string          `json:"jobId"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Clips        []entities.Clip `json:"clips"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    *time.Time      `json:"createdAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

type JobSummary struct {
	JobId        string          `json:"jobId"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Clips        []entities.Clip `json:"clips"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    *time.Time      `json:"createdAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

type VideoJobsResponse struct {
	Success bool         `json:"success"`
	VideoId string       `json:"videoId"`
	Jobs    []JobSummary `json:"jobs"`
}

type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type HealthResponse struct {
	Success   bool           `json:"success"`
	Status    string         `json:"status"`
	Uptime    float64        `json:"uptime"`
	Timestamp time.Time      `json:"timestamp"`
	Services  HealthServices `json:"services"`
}

type HealthServices struct {
	Redis       string             `json:"redis"`
	Queue       string             `json:"queue"`
	QueueCounts *redisqueue.Counts `json:"queueCounts,omitempty"`
}

// JobEventMessage is the wire form of a queue lifecycle event on the broker.
type JobEventMessage struct {
	Type     string          `json:"type"`
	JobId    string          `json:"jobId"`
	Queue    string          `json:"queue"`
	Progress int             `json:"progress"`
	Attempts int             `json:"attempts"`
	Reason   string          `json:"reason,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	At       time.Time       `json:"at"`
}
