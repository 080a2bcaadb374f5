package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-splitter/apperror"
	"video-splitter/storage"
)

var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ClipFile is an opened clip ready to be served.
type ClipFile struct {
	io.ReadSeekCloser
	Name    string
	Size    int64
	ModTime time.Time
}

type Streamer interface {
	Open(ctx context.Context, videoId, filename string) (*ClipFile, error)
}

type streamer struct {
	outputDir string
	archive   storage.Archive
}

// Open serves the local clip, falling back to the archive. It does not look
// at job state: a clip is servable as soon as its file exists.
func (s *streamer) Open(ctx context.Context, videoId, filename string) (*ClipFile, error) {
	if !safeSegment(videoId) || !safeSegment(filename) {
		return nil, apperror.NotFound("Clip not found")
	}

	path := filepath.Join(s.outputDir, videoId, filename)
	f, err := os.Open(path)
	if err == nil {
		info, statErr := f.Stat()
		if statErr == nil && info.Mode().IsRegular() {
			return &ClipFile{ReadSeekCloser: f, Name: filename, Size: info.Size(), ModTime: info.ModTime()}, nil
		}
		_ = f.Close()
		return nil, apperror.NotFound("Clip not found")
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open clip %s: %w", path, err)
	}

	if s.archive == nil {
		return nil, apperror.NotFound("Clip not found")
	}
	obj, err := s.archive.Open(ctx, videoId, filename)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apperror.NotFound("Clip not found")
	}
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("video_id", videoId).Str("clip", filename).Msg("serving clip from archive")
	return &ClipFile{ReadSeekCloser: obj, Name: filename, Size: obj.Size, ModTime: obj.ModTime}, nil
}

func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "..") && !strings.ContainsRune(s, 0)
}

// ByteRange is an inclusive span of bytes.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange interprets a single-range Range header against a resource of
// size bytes. ok is false when the header is absent or not a form this server
// honours, in which case the full body is served. ErrRangeNotSatisfiable is
// returned for well-formed ranges that fall outside the resource.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{}, false, nil
	}
	ranges, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(ranges, ",") {
		return ByteRange{}, false, nil
	}
	first, last, found := strings.Cut(strings.TrimSpace(ranges), "-")
	if !found {
		return ByteRange{}, false, nil
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix < 0 {
			return ByteRange{}, false, nil
		}
		if suffix == 0 || size == 0 {
			return ByteRange{}, false, ErrRangeNotSatisfiable
		}
		suffix = min(suffix, size)
		return ByteRange{Start: size - suffix, End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false, nil
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, false, nil
		}
		end = min(end, size-1)
	}
	if start >= size {
		return ByteRange{}, false, ErrRangeNotSatisfiable
	}
	return ByteRange{Start: start, End: end}, true, nil
}

func NewStreamer(outputDir string, archive storage.Archive) Streamer {
	return &streamer{outputDir: outputDir, archive: archive}
}
