package redisqueue

import (
	"encoding/json"
	"strconv"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Job struct {
	ID             string          `json:"id"`
	Data           json.RawMessage `json:"data"`
	Priority       int             `json:"priority"`
	State          State           `json:"state"`
	Progress       int             `json:"progress"`
	AttemptsMade   int             `json:"attemptsMade"`
	StalledCounter int             `json:"stalledCounter"`
	FailedReason   string          `json:"failedReason,omitempty"`
	ReturnValue    json.RawMessage `json:"returnValue,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// DecodeResult unmarshals the return value of a completed job into v.
func (j *Job) DecodeResult(v any) error {
	if len(j.ReturnValue) == 0 {
		return nil
	}
	return json.Unmarshal(j.ReturnValue, v)
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

func jobFromHash(id string, h map[string]string) *Job {
	job := &Job{
		ID:             id,
		Data:           json.RawMessage(h["data"]),
		Priority:       atoi(h["priority"]),
		State:          State(h["state"]),
		Progress:       atoi(h["progress"]),
		AttemptsMade:   atoi(h["attemptsMade"]),
		StalledCounter: atoi(h["stalledCounter"]),
		FailedReason:   h["failedReason"],
		CreatedAt:      fromMillis(h["timestamp"]),
	}
	if rv := h["returnvalue"]; rv != "" {
		job.ReturnValue = json.RawMessage(rv)
	}
	if v := h["processedOn"]; v != "" {
		t := fromMillis(v)
		job.ProcessedAt = &t
	}
	if v := h["finishedOn"]; v != "" {
		t := fromMillis(v)
		job.FinishedAt = &t
	}
	return job
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
