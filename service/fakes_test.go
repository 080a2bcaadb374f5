package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"video-splitter/entities"
	"video-splitter/source"
	"video-splitter/storage"
)

type fakeSource struct {
	info        entities.VideoInfo
	metadataErr error
	downloadErr error
	content     string
	downloads   int
	dests       []string
	onDownload  func()
	mu          sync.Mutex
}

func (f *fakeSource) ResolveID(url string) (string, error) {
	return source.ResolveID(url)
}

func (f *fakeSource) FetchMetadata(ctx context.Context, url string) (entities.VideoInfo, error) {
	return f.info, f.metadataErr
}

func (f *fakeSource) Download(ctx context.Context, url, dest string, progress source.ProgressFunc) error {
	f.mu.Lock()
	f.downloads++
	f.dests = append(f.dests, dest)
	f.mu.Unlock()
	if f.onDownload != nil {
		f.onDownload()
	}
	if f.downloadErr != nil {
		_ = os.WriteFile(dest, []byte("partial"), 0o644)
		return f.downloadErr
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if progress != nil {
		progress(50, 100)
		progress(100, 100)
	}
	return os.WriteFile(dest, []byte(f.content), 0o644)
}

type encodeCall struct {
	Start    float64
	Duration float64
	Output   string
}

type fakeEncoder struct {
	failAt int
	calls  []encodeCall
}

func (f *fakeEncoder) Clip(ctx context.Context, input, output string, start, duration float64) error {
	f.calls = append(f.calls, encodeCall{Start: start, Duration: duration, Output: output})
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return errors.New("ffmpeg exited with status 1")
	}
	return os.WriteFile(output, []byte("clip"), 0o644)
}

type fakeCache struct {
	entries map[string]entities.CacheEntry
	sets    int
	pingErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]entities.CacheEntry{}}
}

func (f *fakeCache) key(videoId string, duration int) string {
	return fmt.Sprintf("%s:%d", videoId, duration)
}

func (f *fakeCache) Get(ctx context.Context, videoId string, duration int) (*entities.CacheEntry, bool) {
	e, ok := f.entries[f.key(videoId, duration)]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (f *fakeCache) Set(ctx context.Context, entry entities.CacheEntry, ttl time.Duration) bool {
	f.sets++
	f.entries[f.key(entry.VideoId, entry.Duration)] = entry
	return true
}

func (f *fakeCache) Invalidate(ctx context.Context, videoId string) (int, error) {
	return 0, nil
}

func (f *fakeCache) Ping(ctx context.Context) error {
	return f.pingErr
}

type recordingProgress struct {
	values []int
	err    error
}

func (r *recordingProgress) Report(ctx context.Context, percent int) error {
	r.values = append(r.values, percent)
	return r.err
}

type fakeArchive struct {
	uploaded map[string][]entities.Clip
	objects  map[string]string
	err      error
}

func (f *fakeArchive) UploadClips(ctx context.Context, videoId string, clips []entities.Clip) error {
	if f.err != nil {
		return f.err
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]entities.Clip{}
	}
	f.uploaded[videoId] = clips
	return nil
}

func (f *fakeArchive) Open(ctx context.Context, videoId, filename string) (*storage.Object, error) {
	content, ok := f.objects[storage.ObjectName(videoId, filename)]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.Object{
		ReadSeekCloser: nopCloser{strings.NewReader(content)},
		Size:           int64(len(content)),
	}, nil
}

type nopCloser struct {
	*strings.Reader
}

func (nopCloser) Close() error { return nil }
