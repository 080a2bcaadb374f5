package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-splitter/entities"
)

// ErrUnavailable covers missing, private and restricted videos.
var ErrUnavailable = errors.New("video not found or not accessible")

type Source interface {
	ResolveID(url string) (string, error)
	FetchMetadata(ctx context.Context, url string) (entities.VideoInfo, error)
	Download(ctx context.Context, url, dest string, progress ProgressFunc) error
}

type YtDlp struct {
	binary     string
	timeout    time.Duration
	downloader *HTTPDownloader
}

func NewYtDlp(binary string, timeout time.Duration, downloader *HTTPDownloader) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if downloader == nil {
		downloader = NewHTTPDownloader(0)
	}
	return &YtDlp{binary: binary, timeout: timeout, downloader: downloader}
}

func (y *YtDlp) ResolveID(url string) (string, error) {
	return ResolveID(url)
}

type ytdlpInfo struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	IsLive    bool    `json:"is_live"`
}

func (y *YtDlp) FetchMetadata(ctx context.Context, url string) (entities.VideoInfo, error) {
	out, err := y.run(ctx, "--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return entities.VideoInfo{}, errors.Join(ErrUnavailable, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return entities.VideoInfo{}, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	if info.IsLive || info.Duration <= 0 {
		return entities.VideoInfo{}, fmt.Errorf("%w: no fixed duration", ErrUnavailable)
	}

	return entities.VideoInfo{
		Title:     info.Title,
		Duration:  int(math.Ceil(info.Duration)),
		Thumbnail: info.Thumbnail,
	}, nil
}

// DirectURL asks yt-dlp for a single progressive stream carrying both audio
// and video.
func (y *YtDlp) DirectURL(ctx context.Context, url string) (string, error) {
	out, err := y.run(ctx, "-f", "b", "--get-url", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return "", err
	}
	urlStr := strings.TrimSpace(string(out))
	if urlStr == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}
	// several lines means separate streams; the first is the combined one for -f b
	return strings.Split(urlStr, "\n")[0], nil
}

func (y *YtDlp) Download(ctx context.Context, url, dest string, progress ProgressFunc) error {
	direct, err := y.DirectURL(ctx, url)
	if err != nil {
		return fmt.Errorf("resolve stream url: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("dest", dest).Msg("streaming source video")
	return y.downloader.Download(ctx, direct, dest, progress)
}

func (y *YtDlp) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.binary, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}
