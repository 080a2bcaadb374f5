package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"video-splitter/constant"
)

// Clip is one produced segment of a source video.
type Clip struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Path     string  `json:"path"`
	URL      string  `json:"url"`
}

// VideoInfo is the metadata reported by the source collaborator.
type VideoInfo struct {
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ResolvedRequest is a validated split request. It is the payload of every
// queued job.
type ResolvedRequest struct {
	URL       string    `json:"url"`
	Duration  int       `json:"duration"`
	VideoId   string    `json:"videoId"`
	VideoInfo VideoInfo `json:"videoInfo"`
	CreatedAt time.Time `json:"createdAt"`
}

// SplitResult is the return value stored on a completed job.
type SplitResult struct {
	VideoId string `json:"videoId"`
	Clips   []Clip `json:"clips"`
}

type CacheEntry struct {
	VideoId     string    `json:"videoId"`
	Duration    int       `json:"duration"`
	Clips       []Clip    `json:"clips"`
	VideoInfo   VideoInfo `json:"videoInfo"`
	ProcessedAt time.Time `json:"processedAt"`
}

func ClipFilename(videoId string, index int) string {
	return fmt.Sprintf("%s_clip_%d.%s", videoId, index, constant.ClipExtension)
}

func ClipURL(videoId, filename string) string {
	return fmt.Sprintf("/api/clips/%s/%s", videoId, filename)
}

func EncodeClips(clips []Clip) (string, error) {
	raw, err := json.Marshal(clips)
	if err != nil {
		return "", fmt.Errorf("encode clips: %w", err)
	}
	return string(raw), nil
}

func DecodeClips(raw string) ([]Clip, error) {
	var clips []Clip
	if err := json.Unmarshal([]byte(raw), &clips); err != nil {
		return nil, fmt.Errorf("decode clips: %w", err)
	}
	return clips, nil
}
